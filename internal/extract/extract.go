// Package extract defines the text-extraction boundary. The built-in
// extractor handles plain-text formats; PDF, OCR and Word parsing are
// external collaborators implementing the same interface.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedType marks a content type no configured extractor can
// handle. It is never retried: the job goes straight to terminal error.
var ErrUnsupportedType = errors.New("unsupported content type")

type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".log":      true,
	".csv":      true,
}

// Supported reports whether the built-in extractor can handle the file.
func Supported(path string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(path))]
}

// TextExtractor reads plain-text documents and normalizes line endings.
type TextExtractor struct{}

func NewTextExtractor() TextExtractor {
	return TextExtractor{}
}

func (TextExtractor) ExtractText(_ context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !textExtensions[ext] {
		return "", fmt.Errorf("%s: %w", ext, ErrUnsupportedType)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return Normalize(string(data)), nil
}

// Normalize canonicalizes extracted text so the content hash is stable
// regardless of platform line endings or trailing whitespace.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}
