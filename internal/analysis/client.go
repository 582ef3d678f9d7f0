package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClientConfig configures the HTTP client for the AI metadata service.
type ClientConfig struct {
	APIKey  string
	APIURL  string
	Model   string
	Timeout int // seconds
}

func (c *ClientConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("AI API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("AI API URL is required")
	}
	return nil
}

// HTTPClient asks the AI service for note metadata. Prompting and response
// shaping are the service's concern; this client only moves the payload.
type HTTPClient struct {
	config     ClientConfig
	httpClient *http.Client
}

func NewHTTPClient(config ClientConfig) (*HTTPClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30
	}
	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}, nil
}

type metadataRequest struct {
	Model     string   `json:"model,omitempty"`
	Content   string   `json:"content"`
	Title     string   `json:"title,omitempty"`
	ValidTags []string `json:"valid_tags"`
}

type metadataResponse struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func (c *HTTPClient) GenerateMetadata(ctx context.Context, content, title string, validTags []string) (Metadata, error) {
	payload, err := json.Marshal(metadataRequest{
		Model:     c.config.Model,
		Content:   content,
		Title:     title,
		ValidTags: validTags,
	})
	if err != nil {
		return Metadata{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL+"/v1/metadata", bytes.NewReader(payload))
	if err != nil {
		return Metadata{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("metadata request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Metadata{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Metadata{}, fmt.Errorf("metadata request: status %d: %s", resp.StatusCode, body)
	}

	var decoded metadataResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Metadata{}, fmt.Errorf("decode response: %w", err)
	}
	return Metadata{
		Title:       decoded.Title,
		Description: decoded.Description,
		Tags:        decoded.Tags,
	}, nil
}
