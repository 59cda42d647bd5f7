package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/menta2k/street-inpaint/pkg/types"
)

func TestToPixelBox(t *testing.T) {
	got := ToPixelBox(types.DetectionBox{CX: 0.5, CY: 0.5, W: 0.2, H: 0.4}, 100, 100)

	assert.InDelta(t, 40, got.X1, 1e-9)
	assert.InDelta(t, 30, got.Y1, 1e-9)
	assert.InDelta(t, 60, got.X2, 1e-9)
	assert.InDelta(t, 70, got.Y2, 1e-9)
}

func TestToPixelBoxNotClipped(t *testing.T) {
	got := ToPixelBox(types.DetectionBox{CX: 0.05, CY: 0.95, W: 0.3, H: 0.3}, 200, 100)

	assert.Less(t, got.X1, 0.0)
	assert.Greater(t, got.Y2, 100.0)

	clipped := got.Clip(200, 100)
	assert.Equal(t, 0.0, clipped.X1)
	assert.Equal(t, 100.0, clipped.Y2)
}

func TestToPixelBoxNonFinite(t *testing.T) {
	got := ToPixelBox(types.DetectionBox{CX: math.NaN(), CY: 0.5, W: 0.1, H: 0.1}, 10, 10)
	assert.True(t, math.IsNaN(got.X1))
	assert.True(t, math.IsNaN(got.X2))
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		box  types.DetectionBox
		w, h int
	}{
		{"centered", types.DetectionBox{CX: 0.5, CY: 0.5, W: 0.2, H: 0.4}, 100, 100},
		{"wide image", types.DetectionBox{CX: 0.13, CY: 0.77, W: 0.05, H: 0.31}, 2048, 1024},
		{"edge", types.DetectionBox{CX: 0.999, CY: 0.001, W: 0.4, H: 0.9}, 640, 480},
		{"tiny", types.DetectionBox{CX: 0.333333, CY: 0.666667, W: 1e-4, H: 2e-4}, 1, 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			back := ToNormalized(ToPixelBox(tc.box, tc.w, tc.h), tc.w, tc.h)
			assert.InDelta(t, tc.box.CX, back.CX, 1e-6)
			assert.InDelta(t, tc.box.CY, back.CY, 1e-6)
			assert.InDelta(t, tc.box.W, back.W, 1e-6)
			assert.InDelta(t, tc.box.H, back.H, 1e-6)
		})
	}
}

func TestToPixelBoxesPreservesOrder(t *testing.T) {
	boxes := []types.DetectionBox{
		{CX: 0.1, CY: 0.1, W: 0.1, H: 0.1},
		{CX: 0.9, CY: 0.9, W: 0.1, H: 0.1},
	}
	got := ToPixelBoxes(boxes, 10, 10)
	assert.Len(t, got, 2)
	assert.InDelta(t, 0.5, got[0].X1, 1e-9)
	assert.InDelta(t, 8.5, got[1].X1, 1e-9)
}

func TestPixelBoxRect(t *testing.T) {
	r := types.PixelBox{X1: 39.5, Y1: 30, X2: 60.2, Y2: 70}.Rect()
	assert.Equal(t, 39, r.Min.X)
	assert.Equal(t, 30, r.Min.Y)
	assert.Equal(t, 61, r.Max.X)
	assert.Equal(t, 70, r.Max.Y)
}
