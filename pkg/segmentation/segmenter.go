// Package segmentation provides Segmenter implementations: a client for a
// box-prompted segmentation model server and a model-free box rasterizer.
package segmentation

import (
	"context"
	"errors"
	"image"

	"github.com/menta2k/street-inpaint/pkg/mask"
	"github.com/menta2k/street-inpaint/pkg/types"
)

// ErrNoImage is returned by Predict when SetImage has not been called.
var ErrNoImage = errors.New("segmenter: no image set")

// BoxSegmenter turns every box into a filled rectangle mask. It needs no
// model and is used when no segmentation server is configured.
type BoxSegmenter struct {
	width, height int
	ready         bool
}

// NewBoxSegmenter returns a segmenter with no image set.
func NewBoxSegmenter() *BoxSegmenter {
	return &BoxSegmenter{}
}

// SetImage records the extent of img.
func (s *BoxSegmenter) SetImage(_ context.Context, img image.Image) error {
	b := img.Bounds()
	s.width, s.height = b.Dx(), b.Dy()
	s.ready = true
	return nil
}

// Predict rasterizes each box, clipped to the image.
func (s *BoxSegmenter) Predict(_ context.Context, boxes []types.PixelBox) ([]*mask.Mask, error) {
	if !s.ready {
		return nil, ErrNoImage
	}
	out := make([]*mask.Mask, len(boxes))
	for i, b := range boxes {
		out[i] = mask.FromRect(s.width, s.height, b.Clip(s.width, s.height).Rect())
	}
	return out, nil
}
