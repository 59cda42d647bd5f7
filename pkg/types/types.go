package types

import (
	"image"
	"math"
)

// DetectionBox is a detector hit in normalized centre form. CX, CY, W and H
// are fractions of the image extent in [0,1].
type DetectionBox struct {
	CX         float64 `json:"cx"`
	CY         float64 `json:"cy"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label"`
}

// PixelBox is a corner-form box in pixel units. It is not clipped to the
// image; use Clip before handing it to code that indexes pixels.
type PixelBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Clip returns the box restricted to [0,width]x[0,height].
func (b PixelBox) Clip(width, height int) PixelBox {
	w, h := float64(width), float64(height)
	return PixelBox{
		X1: clamp(b.X1, 0, w),
		Y1: clamp(b.Y1, 0, h),
		X2: clamp(b.X2, 0, w),
		Y2: clamp(b.Y2, 0, h),
	}
}

// Rect converts the box to an integer rectangle covering every pixel the box
// touches. Min is floored and Max is ceiled.
func (b PixelBox) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(b.X1)),
		int(math.Floor(b.Y1)),
		int(math.Ceil(b.X2)),
		int(math.Ceil(b.Y2)),
	)
}

// Thresholds are the detector cut-offs applied uniformly to every prompt.
type Thresholds struct {
	Box  float64 `json:"box_threshold"`
	Text float64 `json:"text_threshold"`
}

// FileKind tells the batch walker what to do with a file.
type FileKind int

const (
	KindPassThrough FileKind = iota
	KindImage
)

func (k FileKind) String() string {
	switch k {
	case KindImage:
		return "image"
	default:
		return "pass-through"
	}
}

// BatchItem is one input file discovered under a capture location.
type BatchItem struct {
	SourcePath string
	// RelPath is relative to the input root, e.g. "loc_001/heading_090.jpg".
	RelPath  string
	Location string
	Name     string
	Kind     FileKind
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
