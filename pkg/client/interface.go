package client

import (
	"context"
	"image"

	"github.com/menta2k/street-inpaint/pkg/mask"
	"github.com/menta2k/street-inpaint/pkg/types"
)

// VisionClient sends one image plus a text prompt to a multimodal model and
// returns the raw text answer.
type VisionClient interface {
	Query(ctx context.Context, model, prompt, imgB64 string) (string, error)
}

// Detector finds regions matching a text prompt. Returned boxes have already
// passed both thresholds.
type Detector interface {
	Detect(ctx context.Context, img image.Image, prompt string, th types.Thresholds) ([]types.DetectionBox, error)
}

// Segmenter produces one mask per pixel box for the image given to the most
// recent SetImage call. Implementations hold per-image state and must not be
// shared between goroutines.
type Segmenter interface {
	SetImage(ctx context.Context, img image.Image) error
	Predict(ctx context.Context, boxes []types.PixelBox) ([]*mask.Mask, error)
}

// Inpainter erases the masked region and returns a new image of the same
// extent.
type Inpainter interface {
	Inpaint(ctx context.Context, img image.Image, m *mask.Mask) (image.Image, error)
}
