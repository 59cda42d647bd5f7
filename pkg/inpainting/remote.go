package inpainting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/menta2k/street-inpaint/pkg/mask"
	"github.com/menta2k/street-inpaint/pkg/processing"
)

// RemoteOptions identifies the model the server should run.
type RemoteOptions struct {
	Config     string
	Checkpoint string
	Device     string
	Timeout    time.Duration
}

// HTTPInpainter talks to an inpainting model server.
type HTTPInpainter struct {
	baseURL    string
	httpClient *http.Client
	opts       RemoteOptions
}

type inpaintRequest struct {
	Image      string `json:"image"`
	Mask       string `json:"mask"`
	Config     string `json:"config,omitempty"`
	Checkpoint string `json:"checkpoint,omitempty"`
	Device     string `json:"device,omitempty"`
}

type inpaintResponse struct {
	Image string `json:"image"`
	Error string `json:"error,omitempty"`
}

// NewHTTPInpainter creates a client for the server at baseURL.
func NewHTTPInpainter(baseURL string, opts RemoteOptions) *HTTPInpainter {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	return &HTTPInpainter{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
	}
}

// Inpaint sends img and m and returns the server's result, which must have
// the same extent as img.
func (p *HTTPInpainter) Inpaint(ctx context.Context, img image.Image, m *mask.Mask) (image.Image, error) {
	b := img.Bounds()
	if m == nil {
		return processing.ToWorking(img), nil
	}
	if err := m.CheckExtent(b.Dx(), b.Dy()); err != nil {
		return nil, err
	}

	imgB64, err := processing.EncodePNGBase64(img)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	maskB64, err := processing.EncodePNGBase64(m.Gray())
	if err != nil {
		return nil, fmt.Errorf("encode mask: %w", err)
	}

	body, err := json.Marshal(inpaintRequest{
		Image:      imgB64,
		Mask:       maskB64,
		Config:     p.opts.Config,
		Checkpoint: p.opts.Checkpoint,
		Device:     p.opts.Device,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/inpaint", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out inpaintResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("inpainting server: %s", out.Error)
	}

	result, err := processing.DecodeBase64Image(out.Image)
	if err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	rb := result.Bounds()
	if rb.Dx() != b.Dx() || rb.Dy() != b.Dy() {
		return nil, fmt.Errorf("%w: inpainted image is %dx%d, want %dx%d",
			mask.ErrExtentMismatch, rb.Dx(), rb.Dy(), b.Dx(), b.Dy())
	}
	return processing.ToWorking(result), nil
}
