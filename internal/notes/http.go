package notes

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// HTTPConfig configures the REST client for the note service.
type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout int // seconds
}

func (c *HTTPConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("note service base URL is required")
	}
	if c.Token == "" {
		return fmt.Errorf("note service token is required")
	}
	return nil
}

// HTTPClient talks to the note service's REST API. Thread-safe for
// concurrent use, though the upload worker serializes its own calls.
type HTTPClient struct {
	config     HTTPConfig
	httpClient *http.Client
}

func NewHTTPClient(config HTTPConfig) (*HTTPClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60
	}
	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}, nil
}

type createNotePayload struct {
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Tags           []string       `json:"tags"`
	Language       string         `json:"language,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	Attachment     attachmentBody `json:"attachment"`
}

type attachmentBody struct {
	Filename string `json:"filename"`
	Data     string `json:"data"` // base64
}

func (c *HTTPClient) CreateNote(ctx context.Context, req CreateNoteRequest) (CreateNoteResult, error) {
	data, err := os.ReadFile(req.FilePath)
	if err != nil {
		return CreateNoteResult{}, fmt.Errorf("read attachment %s: %w", req.FilePath, err)
	}

	payload := createNotePayload{
		Title:          req.Title,
		Description:    req.Description,
		Tags:           req.Tags,
		Language:       req.Language,
		IdempotencyKey: req.IdempotencyKey,
		Attachment: attachmentBody{
			Filename: filepath.Base(req.FilePath),
			Data:     base64.StdEncoding.EncodeToString(data),
		},
	}

	var ret CreateNoteResult
	if err := c.do(ctx, http.MethodPost, "/api/notes", payload, &ret); err != nil {
		return CreateNoteResult{}, err
	}
	return ret, nil
}

func (c *HTTPClient) GetNote(ctx context.Context, noteID string) (Note, error) {
	var ret Note
	if err := c.do(ctx, http.MethodGet, "/api/notes/"+url.PathEscape(noteID), nil, &ret); err != nil {
		return Note{}, err
	}
	return ret, nil
}

func (c *HTTPClient) UpdateNote(ctx context.Context, update NoteUpdate) error {
	return c.do(ctx, http.MethodPut, "/api/notes/"+url.PathEscape(update.ID), update, nil)
}

func (c *HTTPClient) ListTags(ctx context.Context) ([]string, error) {
	var ret []string
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The service reports rate limits and conflicts as a structured
		// payload; surface it typed so Classify can read the fields.
		var svcErr ServiceError
		if json.Unmarshal(respBody, &svcErr) == nil && svcErr.ErrorCode != 0 {
			return &svcErr
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
