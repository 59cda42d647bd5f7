// Package llamacpp implements client.VisionClient against a llama.cpp server
// through its OpenAI-compatible chat completions endpoint.
package llamacpp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultURL     = "http://localhost:8080"
	defaultTimeout = 300 * time.Second
	chatEndpoint   = "/v1/chat/completions"
)

// Client talks to a llama.cpp server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Message is a chat message. Content is a string in answers and a list of
// ContentPart values in requests.
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type ChatCompletionResponse struct {
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// NewClient creates a client for serverURL. An empty URL means the local
// default port.
func NewClient(serverURL string) (*Client, error) {
	if serverURL == "" {
		serverURL = defaultURL
	}
	return &Client{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		timeout:    defaultTimeout,
	}, nil
}

// SetTimeout bounds requests whose context has no deadline.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Query sends the prompt with the image attached as a data URL and returns
// the first text answer. The server is asked for a JSON object.
func (c *Client) Query(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	parts := []ContentPart{{Type: "text", Text: prompt}}
	if imgB64 != "" {
		parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: dataURL(imgB64)}})
	}

	req := ChatCompletionRequest{
		Model:          model,
		Messages:       []Message{{Role: "user", Content: parts}},
		Temperature:    0,
		MaxTokens:      4096,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}

	respBody, err := c.sendRequest(ctx, chatEndpoint, req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	if text := messageText(resp.Choices[0].Message); text != "" {
		return text, nil
	}
	return "", fmt.Errorf("empty response from llama.cpp server")
}

// messageText handles both string and content-part answers.
func messageText(m Message) string {
	switch content := m.Content.(type) {
	case string:
		return content
	case []interface{}:
		for _, item := range content {
			if part, ok := item.(map[string]interface{}); ok {
				if text, ok := part["text"].(string); ok && text != "" {
					return text
				}
			}
		}
	}
	return ""
}

// dataURL sniffs the image type from the first decoded bytes; anything
// unrecognized is labelled JPEG.
func dataURL(imgB64 string) string {
	mime := "image/jpeg"
	head := imgB64
	if len(head) > 24 {
		head = head[:24]
	}
	if raw, err := base64.StdEncoding.DecodeString(head); err == nil {
		if detected := http.DetectContentType(raw); strings.HasPrefix(detected, "image/") {
			mime = detected
		}
	}
	return "data:" + mime + ";base64," + imgB64
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
