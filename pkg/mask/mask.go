// Package mask implements the binary rasters produced by segmentation and the
// union and dilation operations applied to them.
package mask

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// Set is the only non-zero value a mask pixel may hold.
const Set uint8 = 255

// ErrExtentMismatch is returned when masks of different sizes are combined.
var ErrExtentMismatch = errors.New("mask extent mismatch")

// Mask is a Width x Height binary raster stored row-major.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// New returns an all-zero mask.
func New(width, height int) *Mask {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Mask{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// FromRect returns a mask with every pixel inside r set. r is clipped to the
// mask extent.
func FromRect(width, height int, r image.Rectangle) *Mask {
	m := New(width, height)
	r = r.Intersect(image.Rect(0, 0, width, height))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := m.Pix[y*width : (y+1)*width]
		for x := r.Min.X; x < r.Max.X; x++ {
			row[x] = Set
		}
	}
	return m
}

// FromImage binarizes any image: a pixel is set when its luminance is
// non-zero. The mask origin is the image's Bounds().Min.
func FromImage(img image.Image) *Mask {
	b := img.Bounds()
	m := New(b.Dx(), b.Dy())
	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < m.Height; y++ {
			src := g.Pix[(y+b.Min.Y-g.Rect.Min.Y)*g.Stride+(b.Min.X-g.Rect.Min.X):]
			dst := m.Pix[y*m.Width : (y+1)*m.Width]
			for x := range dst {
				if src[x] > 0 {
					dst[x] = Set
				}
			}
		}
		return m
	}
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y > 0 {
				m.Pix[y*m.Width+x] = Set
			}
		}
	}
	return m
}

// Gray returns the mask as an 8-bit grayscale image (0 or 255).
func (m *Mask) Gray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	copy(g.Pix, m.Pix)
	return g
}

// At reports whether (x, y) is set. Out of range coordinates are unset.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Pix[y*m.Width+x] != 0
}

// SetAt marks (x, y). Out of range coordinates are ignored.
func (m *Mask) SetAt(x, y int) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = Set
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// IsEmpty reports whether no pixel is set.
func (m *Mask) IsEmpty() bool {
	for _, v := range m.Pix {
		if v != 0 {
			return false
		}
	}
	return true
}

// Bounds returns the smallest rectangle containing every set pixel.
func (m *Mask) Bounds() image.Rectangle {
	minX, minY := m.Width, m.Height
	maxX, maxY := -1, -1
	for y := 0; y < m.Height; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x, v := range row {
			if v == 0 {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if maxX < 0 {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	out := &Mask{Width: m.Width, Height: m.Height, Pix: make([]uint8, len(m.Pix))}
	copy(out.Pix, m.Pix)
	return out
}

// SameExtent reports whether o has the same width and height.
func (m *Mask) SameExtent(o *Mask) bool {
	return o != nil && m.Width == o.Width && m.Height == o.Height
}

// Equal reports whether both masks have the same extent and set pixels.
func (m *Mask) Equal(o *Mask) bool {
	if !m.SameExtent(o) {
		return false
	}
	for i, v := range m.Pix {
		if (v != 0) != (o.Pix[i] != 0) {
			return false
		}
	}
	return true
}

// Contains reports whether every pixel set in o is also set in m.
func (m *Mask) Contains(o *Mask) bool {
	if !m.SameExtent(o) {
		return false
	}
	for i, v := range o.Pix {
		if v != 0 && m.Pix[i] == 0 {
			return false
		}
	}
	return true
}

// CheckExtent returns an error wrapping ErrExtentMismatch unless the mask is
// width x height.
func (m *Mask) CheckExtent(width, height int) error {
	if m.Width != width || m.Height != height {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrExtentMismatch, m.Width, m.Height, width, height)
	}
	return nil
}
