package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// DefaultTimeout bounds a single grounding request when the caller's context
// has no deadline.
const DefaultTimeout = 300 * time.Second

// Client wraps the Ollama API client
type Client struct {
	client  *api.Client
	timeout time.Duration
}

// NewClient creates a new Ollama client
func NewClient(ollamaURL string) (*Client, error) {
	return NewClientWithHTTP(ollamaURL, http.DefaultClient)
}

// NewClientWithHTTP creates a client that sends requests through hc
func NewClientWithHTTP(ollamaURL string, hc *http.Client) (*Client, error) {
	// Parse the provided URL
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q needs scheme and host", ollamaURL)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	// Create client with the specified URL, ignoring environment
	return &Client{client: api.NewClient(baseURL, hc), timeout: DefaultTimeout}, nil
}

// SetTimeout overrides DefaultTimeout. Zero or negative keeps the default.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Query sends the prompt and image and returns the model's answer. The model
// is asked for JSON output.
func (c *Client) Query(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// Decode base64 image to raw bytes
	imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 image: %w", err)
	}

	streamFalse := false

	// Grounding wants stable coordinates, not creative answers
	options := map[string]any{
		"temperature": 0.0,
	}
	modelLower := strings.ToLower(model)
	if strings.Contains(modelLower, "minicpm-v4") ||
		strings.Contains(modelLower, "minicpm-v-4") ||
		strings.Contains(modelLower, "minicpmv4") {
		options["num_ctx"] = 4096
	}

	req := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream:  &streamFalse,
		Format:  json.RawMessage(`"json"`),
		Options: options,
	}

	var responseContent strings.Builder
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}

	if responseContent.Len() == 0 {
		return "", fmt.Errorf("empty response from ollama")
	}
	return responseContent.String(), nil
}
