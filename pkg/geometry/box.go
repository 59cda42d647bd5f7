// Package geometry converts detector boxes between normalized and pixel space.
package geometry

import "github.com/menta2k/street-inpaint/pkg/types"

// ToPixelBox converts a normalized centre-form box to pixel corners for an
// image of the given size. The result is not clipped.
func ToPixelBox(box types.DetectionBox, width, height int) types.PixelBox {
	w, h := float64(width), float64(height)

	cx := box.CX * w
	cy := box.CY * h
	bw := box.W * w
	bh := box.H * h

	return types.PixelBox{
		X1: cx - bw/2,
		Y1: cy - bh/2,
		X2: cx + bw/2,
		Y2: cy + bh/2,
	}
}

// ToNormalized is the inverse of ToPixelBox. Confidence and label are left
// zero.
func ToNormalized(box types.PixelBox, width, height int) types.DetectionBox {
	w, h := float64(width), float64(height)
	bw := box.X2 - box.X1
	bh := box.Y2 - box.Y1
	return types.DetectionBox{
		CX: (box.X1 + bw/2) / w,
		CY: (box.Y1 + bh/2) / h,
		W:  bw / w,
		H:  bh / h,
	}
}

// ToPixelBoxes maps every box with ToPixelBox, preserving order.
func ToPixelBoxes(boxes []types.DetectionBox, width, height int) []types.PixelBox {
	out := make([]types.PixelBox, len(boxes))
	for i, b := range boxes {
		out[i] = ToPixelBox(b, width, height)
	}
	return out
}
