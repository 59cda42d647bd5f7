// Package testsupport provides deterministic model collaborators and image
// fixtures for tests.
package testsupport

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/menta2k/street-inpaint/pkg/mask"
	"github.com/menta2k/street-inpaint/pkg/segmentation"
	"github.com/menta2k/street-inpaint/pkg/types"
)

// Detector returns canned boxes per prompt. Prompts without an entry yield
// no detections.
type Detector struct {
	Boxes map[string][]types.DetectionBox
	Errs  map[string]error

	mu      sync.Mutex
	prompts []string
	calls   atomic.Int64
}

// Detect implements client.Detector.
func (d *Detector) Detect(ctx context.Context, _ image.Image, prompt string, _ types.Thresholds) ([]types.DetectionBox, error) {
	d.calls.Add(1)
	d.mu.Lock()
	d.prompts = append(d.prompts, prompt)
	d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.Errs[prompt]; err != nil {
		return nil, err
	}
	return append([]types.DetectionBox(nil), d.Boxes[prompt]...), nil
}

// Calls returns how many times Detect ran.
func (d *Detector) Calls() int { return int(d.calls.Load()) }

// Prompts returns the prompts seen, in call order.
func (d *Detector) Prompts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.prompts...)
}

// Segmenter rasterizes boxes exactly and counts calls.
type Segmenter struct {
	Err error

	inner    segmentation.BoxSegmenter
	setCalls atomic.Int64
}

// SetImage implements client.Segmenter.
func (s *Segmenter) SetImage(ctx context.Context, img image.Image) error {
	s.setCalls.Add(1)
	return s.inner.SetImage(ctx, img)
}

// Predict implements client.Segmenter.
func (s *Segmenter) Predict(ctx context.Context, boxes []types.PixelBox) ([]*mask.Mask, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.inner.Predict(ctx, boxes)
}

// SetImageCalls returns how many times SetImage ran.
func (s *Segmenter) SetImageCalls() int { return int(s.setCalls.Load()) }

// Inpainter paints every masked pixel with Fill and records the masks it was
// given.
type Inpainter struct {
	Fill color.NRGBA
	Err  error
	// Panics is how many leading calls panic instead of returning.
	Panics int

	mu    sync.Mutex
	masks []*mask.Mask
}

// Inpaint implements client.Inpainter. It returns a new image.
func (p *Inpainter) Inpaint(_ context.Context, img image.Image, m *mask.Mask) (image.Image, error) {
	p.mu.Lock()
	p.masks = append(p.masks, m.Clone())
	call := len(p.masks)
	p.mu.Unlock()
	if call <= p.Panics {
		panic(fmt.Sprintf("inpainter crashed on call %d", call))
	}
	if p.Err != nil {
		return nil, p.Err
	}

	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if m.At(x, y) {
				out.SetNRGBA(x, y, p.Fill)
				continue
			}
			out.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out, nil
}

// Calls returns how many times Inpaint ran.
func (p *Inpainter) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.masks)
}

// Masks returns copies of the masks Inpaint received.
func (p *Inpainter) Masks() []*mask.Mask {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*mask.Mask(nil), p.masks...)
}

// Gradient returns a w x h opaque image whose pixels are all distinct enough
// to catch accidental modification.
func Gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / max(w-1, 1)), G: uint8(y * 255 / max(h-1, 1)), B: 80, A: 255})
		}
	}
	return img
}
