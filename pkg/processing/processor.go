package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/street-inpaint/internal/utils"
	"github.com/menta2k/street-inpaint/pkg/mask"
	"github.com/menta2k/street-inpaint/pkg/types"
)

// Processor handles image decoding, encoding and model payload preparation
type Processor struct {
	jpegQuality int
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{jpegQuality: 95}
}

// NewProcessorWithQuality creates a processor that writes JPEG/WebP output
// at the given quality (1-100)
func NewProcessorWithQuality(quality int) *Processor {
	if quality < 1 || quality > 100 {
		quality = 95
	}
	return &Processor{jpegQuality: quality}
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders, includes bmp/tiff)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.HasSuffix(strings.ToLower(path), ".webp") {
		if img, err := webp.Decode(f); err == nil {
			return img, nil
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("image: unknown format for %s: %w", path, err)
	}
	return img, nil
}

// ToWorking returns an owned, opaque NRGBA copy of img with its origin at
// (0,0). The pipeline only ever mutates such copies.
func ToWorking(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 255
	}
	return out
}

// ResizeShortSide scales img so its short side is size, unless that would
// push the long side past maxSize; the long side is then held at maxSize.
// Images are scaled up as well as down. A zero size returns img unchanged and
// a zero maxSize disables the cap.
func ResizeShortSide(img image.Image, size, maxSize int) image.Image {
	if size <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return img
	}
	short, long := min(w, h), max(w, h)
	if maxSize > 0 && float64(long)/float64(short)*float64(size) > float64(maxSize) {
		size = int(math.RoundToEven(float64(maxSize) * float64(short) / float64(long)))
	}
	if short == size {
		return img
	}

	var ow, oh int
	if w < h {
		ow, oh = size, int(float64(size)*float64(h)/float64(w))
	} else {
		ow, oh = int(float64(size)*float64(w)/float64(h)), size
	}
	return imaging.Resize(img, ow, oh, imaging.Lanczos)
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// EncodePNGBase64 encodes img losslessly for model servers that need the
// exact pixels (segmentation, inpainting).
func EncodePNGBase64(img image.Image) (string, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeBase64Image decodes a base64 payload, with or without a data URL
// prefix, into an image.
func DecodeBase64Image(payload string) (image.Image, error) {
	if i := strings.Index(payload, ";base64,"); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return decodeImageFromBytes(data)
}

// decodeImageFromBytes decodes an image from byte data with WebP support
func decodeImageFromBytes(data []byte) (image.Image, error) {
	// Try standard image.Decode first
	reader := bytes.NewReader(data)
	if img, _, err := image.Decode(reader); err == nil {
		return img, nil
	}

	// Try WebP decode
	reader = bytes.NewReader(data)
	if img, err := webp.Decode(reader); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// SaveImage writes img to path, choosing the encoder from the extension. The
// file appears atomically: a partially written artifact is never visible
// under its final name.
func (p *Processor) SaveImage(img image.Image, path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		if ext == ".webp" {
			return webp.Encode(w, img, &webp.Options{Quality: float32(p.jpegQuality)})
		}
		format, err := imaging.FormatFromFilename(path)
		if err != nil {
			return err
		}
		return imaging.Encode(w, img, format, imaging.JPEGQuality(p.jpegQuality))
	})
}

// SaveMask writes m as an 8-bit grayscale PNG (0 or 255).
func (p *Processor) SaveMask(m *mask.Mask, path string) error {
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		return png.Encode(w, m.Gray())
	})
}

// CreateDebugOverlay tints the masked region and outlines each detection box
func (p *Processor) CreateDebugOverlay(img image.Image, m *mask.Mask, boxes []types.PixelBox) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	red := color.NRGBA{255, 0, 0, 255}   // mask tint
	green := color.NRGBA{0, 255, 0, 255} // detection boxes
	stroke := int(math.Max(2, 0.004*float64(min(w, h))))

	if m != nil && m.Width == w && m.Height == h {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if !m.At(x, y) {
					continue
				}
				i := y*nrgba.Stride + x*4
				nrgba.Pix[i+0] = uint8((uint16(nrgba.Pix[i+0]) + uint16(red.R)) / 2)
				nrgba.Pix[i+1] = uint8(uint16(nrgba.Pix[i+1]) / 2)
				nrgba.Pix[i+2] = uint8(uint16(nrgba.Pix[i+2]) / 2)
			}
		}
	}

	for _, b := range boxes {
		drawBox(nrgba, b, w, h, green, stroke)
	}

	return nrgba
}

func boxToPixels(box types.PixelBox, w, h int) (int, int, int, int) {
	r := box.Clip(w, h).Rect()
	x0, y0, x1, y1 := r.Min.X, r.Min.Y, r.Max.X, r.Max.Y
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return x0, y0, x1, y1
}

func drawBox(img *image.NRGBA, box types.PixelBox, w, h int, color color.NRGBA, stroke int) {
	x0, y0, x1, y1 := boxToPixels(box, w, h)
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, color)
		drawHLine(img, y1-1-s, x0, x1, color)
		drawVLine(img, x0+s, y0, y1, color)
		drawVLine(img, x1-1-s, y0, y1, color)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
