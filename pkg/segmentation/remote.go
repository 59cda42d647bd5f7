package segmentation

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

	"golang.org/x/image/draw"

	"github.com/menta2k/street-inpaint/pkg/mask"
	"github.com/menta2k/street-inpaint/pkg/processing"
	"github.com/menta2k/street-inpaint/pkg/types"
)

// RemoteOptions identifies the model the server should run.
type RemoteOptions struct {
	Checkpoint string
	Variant    string // vit_h, vit_l or vit_b
	Device     string
	Timeout    time.Duration
}

// HTTPSegmenter talks to a box-prompted segmentation server. The image given
// to SetImage is kept encoded and sent with every Predict call, so the
// server stays stateless.
type HTTPSegmenter struct {
	baseURL    string
	httpClient *http.Client
	opts       RemoteOptions

	imageB64      string
	width, height int
}

type predictRequest struct {
	Image      string       `json:"image"`
	Boxes      [][4]float64 `json:"boxes"`
	Multimask  bool         `json:"multimask_output"`
	Checkpoint string       `json:"checkpoint,omitempty"`
	ModelType  string       `json:"model_type,omitempty"`
	Device     string       `json:"device,omitempty"`
}

type predictResponse struct {
	Masks []string `json:"masks"`
	Error string   `json:"error,omitempty"`
}

// NewHTTPSegmenter creates a client for the server at baseURL.
func NewHTTPSegmenter(baseURL string, opts RemoteOptions) *HTTPSegmenter {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	return &HTTPSegmenter{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
	}
}

// SetImage encodes img for the following Predict calls.
func (s *HTTPSegmenter) SetImage(_ context.Context, img image.Image) error {
	encoded, err := processing.EncodePNGBase64(img)
	if err != nil {
		return fmt.Errorf("encode image: %w", err)
	}
	b := img.Bounds()
	s.imageB64 = encoded
	s.width, s.height = b.Dx(), b.Dy()
	return nil
}

// Predict requests one mask per box. Boxes are clipped to the image before
// sending; masks returned at another resolution are scaled back to the image
// extent.
func (s *HTTPSegmenter) Predict(ctx context.Context, boxes []types.PixelBox) ([]*mask.Mask, error) {
	if s.imageB64 == "" {
		return nil, ErrNoImage
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	req := predictRequest{
		Image:      s.imageB64,
		Boxes:      make([][4]float64, len(boxes)),
		Checkpoint: s.opts.Checkpoint,
		ModelType:  s.opts.Variant,
		Device:     s.opts.Device,
	}
	for i, b := range boxes {
		c := b.Clip(s.width, s.height)
		req.Boxes[i] = [4]float64{c.X1, c.Y1, c.X2, c.Y2}
	}

	var resp predictResponse
	if err := s.post(ctx, "/predict", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("segmentation server: %s", resp.Error)
	}
	if len(resp.Masks) != len(boxes) {
		return nil, fmt.Errorf("segmentation server returned %d masks for %d boxes", len(resp.Masks), len(boxes))
	}

	out := make([]*mask.Mask, len(resp.Masks))
	for i, payload := range resp.Masks {
		img, err := processing.DecodeBase64Image(payload)
		if err != nil {
			return nil, fmt.Errorf("mask %d: %w", i, err)
		}
		out[i] = mask.FromImage(fitToExtent(img, s.width, s.height))
	}
	return out, nil
}

// fitToExtent scales img to width x height with nearest-neighbour sampling
// so the result stays binary.
func fitToExtent(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func (s *HTTPSegmenter) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
