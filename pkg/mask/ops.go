package mask

import "fmt"

// Merge unions masks pixel-wise. It returns nil when there is nothing to
// merge, which callers must keep distinct from a merged mask that happens to
// be empty. Nil entries are skipped.
func Merge(masks ...*Mask) (*Mask, error) {
	var out *Mask
	for i, m := range masks {
		if m == nil {
			continue
		}
		if out == nil {
			out = New(m.Width, m.Height)
		} else if !out.SameExtent(m) {
			return nil, fmt.Errorf("merge mask %d: %w: %dx%d vs %dx%d",
				i, ErrExtentMismatch, m.Width, m.Height, out.Width, out.Height)
		}
		for j, v := range m.Pix {
			if v != 0 {
				out.Pix[j] = Set
			}
		}
	}
	return out, nil
}

// Dilate grows the set region with a size x size square structuring element
// anchored at its centre, applied once. Pixels outside the raster are
// treated as unset. size <= 1 returns an unchanged copy.
func Dilate(m *Mask, size int) *Mask {
	if m == nil {
		return nil
	}
	if size <= 1 || m.IsEmpty() {
		return m.Clone()
	}

	// For even sizes the anchor sits at size/2, so the window reaches one
	// pixel further back than forward.
	back := size / 2
	fwd := size - 1 - back

	horiz := New(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		src := m.Pix[y*m.Width : (y+1)*m.Width]
		dst := horiz.Pix[y*m.Width : (y+1)*m.Width]
		dilateLine(dst, src, 1, m.Width, back, fwd)
	}

	out := New(m.Width, m.Height)
	for x := 0; x < m.Width; x++ {
		dilateLine(out.Pix[x:], horiz.Pix[x:], m.Width, m.Height, back, fwd)
	}
	return out
}

// dilateLine sets dst[i] when any src[j] with i-back <= j <= i+fwd is set.
// Elements are stride apart; n is the line length.
func dilateLine(dst, src []uint8, stride, n, back, fwd int) {
	// last is the most recent set index at or before i, next the first set
	// index at or after i.
	last, seen := 0, false
	next := nextSet(src, stride, n, 0)
	for i := 0; i < n; i++ {
		if src[i*stride] != 0 {
			last, seen = i, true
		}
		for next >= 0 && next < i {
			next = nextSet(src, stride, n, next+1)
		}
		if (seen && i-last <= back) || (next >= 0 && next-i <= fwd) {
			dst[i*stride] = Set
		}
	}
}

func nextSet(src []uint8, stride, n, from int) int {
	for j := from; j < n; j++ {
		if src[j*stride] != 0 {
			return j
		}
	}
	return -1
}
