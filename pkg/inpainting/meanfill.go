// Package inpainting provides Inpainter implementations: a client for a
// LaMa-style model server and a model-free neighbour fill.
package inpainting

import (
	"context"
	"image"

	"github.com/menta2k/street-inpaint/pkg/mask"
	"github.com/menta2k/street-inpaint/pkg/processing"
)

// MeanFillInpainter fills the masked region from the outside in: every pass
// assigns each masked pixel that touches a known pixel the mean of its known
// 8-neighbours. It is deterministic and needs no model, which makes it the
// offline fallback and the reference collaborator in tests.
type MeanFillInpainter struct{}

// NewMeanFillInpainter returns a MeanFillInpainter.
func NewMeanFillInpainter() *MeanFillInpainter {
	return &MeanFillInpainter{}
}

// Inpaint returns a new image; img is not modified. Pixels outside m are
// copied unchanged.
func (MeanFillInpainter) Inpaint(ctx context.Context, img image.Image, m *mask.Mask) (image.Image, error) {
	out := processing.ToWorking(img)
	w, h := out.Rect.Dx(), out.Rect.Dy()
	if m == nil {
		return out, nil
	}
	if err := m.CheckExtent(w, h); err != nil {
		return nil, err
	}

	unknown := make([]bool, w*h)
	remaining := 0
	for i, v := range m.Pix {
		if v != 0 {
			unknown[i] = true
			remaining++
		}
	}
	if remaining == w*h {
		// Nothing to sample from; leave the image as is.
		return out, nil
	}

	// Only pixels inside the mask's bounding box are ever unknown.
	region := m.Bounds()

	type fill struct {
		idx     int
		r, g, b uint8
	}
	var batch []fill
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch = batch[:0]
		for y := region.Min.Y; y < region.Max.Y; y++ {
			for x := region.Min.X; x < region.Max.X; x++ {
				idx := y*w + x
				if !unknown[idx] {
					continue
				}
				var sr, sg, sb, n int
				for dy := -1; dy <= 1; dy++ {
					ny := y + dy
					if ny < 0 || ny >= h {
						continue
					}
					for dx := -1; dx <= 1; dx++ {
						nx := x + dx
						if nx < 0 || nx >= w || (dx == 0 && dy == 0) || unknown[ny*w+nx] {
							continue
						}
						p := ny*out.Stride + nx*4
						sr += int(out.Pix[p])
						sg += int(out.Pix[p+1])
						sb += int(out.Pix[p+2])
						n++
					}
				}
				if n > 0 {
					batch = append(batch, fill{idx, uint8(sr / n), uint8(sg / n), uint8(sb / n)})
				}
			}
		}
		for _, f := range batch {
			x, y := f.idx%w, f.idx/w
			p := y*out.Stride + x*4
			out.Pix[p], out.Pix[p+1], out.Pix[p+2], out.Pix[p+3] = f.r, f.g, f.b, 255
			unknown[f.idx] = false
		}
		remaining -= len(batch)
	}
	return out, nil
}
