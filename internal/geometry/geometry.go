// Package geometry provides the pure crop-rectangle math used by the editor.
// Rectangles are normalized to the unit square relative to the unrotated
// source frame; rotation and flips only affect how a rectangle is presented,
// never how it is stored.
package geometry

import "math"

// MinCrop is the minimum width/height of a crop rectangle, as a fraction of
// the source dimension. No crop may shrink below 5% of either axis.
const MinCrop = 0.05

// Rect is a crop selection in normalized [0,1] source-frame coordinates.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// FullFrame returns the default crop covering the whole source frame.
func FullFrame() Rect {
	return Rect{X: 0, Y: 0, Width: 1, Height: 1}
}

// Handle identifies one of the eight resize handles of a crop rectangle,
// or "move" for a pure translation gesture.
type Handle string

const (
	HandleN    Handle = "n"
	HandleS    Handle = "s"
	HandleE    Handle = "e"
	HandleW    Handle = "w"
	HandleNE   Handle = "ne"
	HandleNW   Handle = "nw"
	HandleSE   Handle = "se"
	HandleSW   Handle = "sw"
	HandleMove Handle = "move"
)

// IsSideRotation reports whether the rotation swaps the displayed axes.
func IsSideRotation(rotation int) bool {
	rotation = normalizeRotation(rotation)
	return rotation == 90 || rotation == 270
}

func normalizeRotation(rotation int) int {
	rotation %= 360
	if rotation < 0 {
		rotation += 360
	}
	return rotation
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

// Clamp normalizes a rectangle so that it satisfies the crop invariants:
// width and height at least MinCrop, origin non-negative, and the far edges
// inside the unit square. Non-finite inputs are replaced with the full-frame
// defaults. Clamp is idempotent.
func Clamp(r Rect) Rect {
	w := finiteOr(r.Width, 1)
	h := finiteOr(r.Height, 1)
	x := finiteOr(r.X, 0)
	y := finiteOr(r.Y, 0)

	w = math.Min(math.Max(w, MinCrop), 1)
	h = math.Min(math.Max(h, MinCrop), 1)
	x = math.Min(math.Max(x, 0), 1-w)
	y = math.Min(math.Max(y, 0), 1-h)

	return Rect{X: x, Y: y, Width: w, Height: h}
}

// rotateCenter rotates a center offset by the given display rotation.
// Coordinates are y-down, so a positive rotation is clockwise on screen.
func rotateCenter(cx, cy float64, rotation int) (float64, float64) {
	switch normalizeRotation(rotation) {
	case 90:
		return -cy, cx
	case 180:
		return -cx, -cy
	case 270:
		return cy, -cx
	default:
		return cx, cy
	}
}

// Transform maps a rectangle between source space and display space.
//
// The rectangle is re-expressed as a center offset from the middle of the
// unit square plus half-extents; rotation and flips compose naturally around
// the center. The forward direction applies rotate-then-flip; inverse applies
// flip-then-inverse-rotate, since flip and rotation do not commute. Side
// rotations swap the half-extents. The result is clamped before returning.
func Transform(r Rect, rotation int, flipH, flipV, inverse bool) Rect {
	r = Clamp(r)
	rotation = normalizeRotation(rotation)

	cx := r.X + r.Width/2 - 0.5
	cy := r.Y + r.Height/2 - 0.5
	hw := r.Width / 2
	hh := r.Height / 2

	if inverse {
		if flipH {
			cx = -cx
		}
		if flipV {
			cy = -cy
		}
		cx, cy = rotateCenter(cx, cy, 360-rotation)
	} else {
		cx, cy = rotateCenter(cx, cy, rotation)
		if flipH {
			cx = -cx
		}
		if flipV {
			cy = -cy
		}
	}

	if IsSideRotation(rotation) {
		hw, hh = hh, hw
	}

	return Clamp(Rect{
		X:      0.5 + cx - hw,
		Y:      0.5 + cy - hh,
		Width:  hw * 2,
		Height: hh * 2,
	})
}

// EffectiveAspectRatio converts a display-space target aspect ratio into the
// equivalent width/height ratio for a normalized source-space rectangle.
//
// A normalized rectangle of w×h covers w*sourceWidth by h*sourceHeight
// pixels, so the source pixel aspect must be divided out. A side rotation
// swaps which physical axis the ratio applies to and inverts it. When the
// inputs are unusable (zero or negative source dimensions, non-positive
// ratio) the target ratio is returned unchanged rather than dividing by zero.
func EffectiveAspectRatio(targetRatio, sourceWidth, sourceHeight float64, isSideRotation bool) float64 {
	if sourceWidth <= 0 || sourceHeight <= 0 || targetRatio <= 0 ||
		math.IsNaN(targetRatio) || math.IsInf(targetRatio, 0) {
		return targetRatio
	}
	ratio := targetRatio
	if isSideRotation {
		ratio = 1 / ratio
	}
	return ratio * sourceHeight / sourceWidth
}

// AdjustToRatio shrinks a free-form rectangle along whichever axis is too
// long to hit the effective aspect ratio, preserving its center, then
// re-clamps into bounds.
func AdjustToRatio(r Rect, ratio, sourceWidth, sourceHeight float64, isSideRotation bool) Rect {
	r = Clamp(r)
	eff := EffectiveAspectRatio(ratio, sourceWidth, sourceHeight, isSideRotation)
	if eff <= 0 || math.IsNaN(eff) || math.IsInf(eff, 0) {
		return r
	}

	cx := r.X + r.Width/2
	cy := r.Y + r.Height/2
	w := r.Width
	h := r.Height

	if w/h > eff {
		w = h * eff
	} else {
		h = w / eff
	}

	return Clamp(Rect{X: cx - w/2, Y: cy - h/2, Width: w, Height: h})
}

// EnforceAspect recomputes a rectangle mid-drag so that it satisfies the
// effective aspect ratio while keeping the edges opposite the active handle
// fixed at their pre-drag position. Edge handles keep the opposite edge and
// the perpendicular center fixed; corner handles keep the opposite corner
// fixed. The move handle performs no aspect correction.
func EnforceAspect(r Rect, handle Handle, start Rect, ratio, sourceWidth, sourceHeight float64, isSideRotation bool) Rect {
	if handle == HandleMove || handle == "" {
		return r
	}

	r = Clamp(r)
	eff := EffectiveAspectRatio(ratio, sourceWidth, sourceHeight, isSideRotation)
	if eff <= 0 || math.IsNaN(eff) || math.IsInf(eff, 0) {
		return r
	}

	startCx := start.X + start.Width/2
	startCy := start.Y + start.Height/2
	startRight := start.X + start.Width
	startBottom := start.Y + start.Height

	w := r.Width
	h := r.Height

	switch handle {
	case HandleE:
		h = w / eff
		r = Rect{X: start.X, Y: startCy - h/2, Width: w, Height: h}
	case HandleW:
		h = w / eff
		r = Rect{X: startRight - w, Y: startCy - h/2, Width: w, Height: h}
	case HandleS:
		w = h * eff
		r = Rect{X: startCx - w/2, Y: start.Y, Width: w, Height: h}
	case HandleN:
		w = h * eff
		r = Rect{X: startCx - w/2, Y: startBottom - h, Width: w, Height: h}
	case HandleSE:
		h = w / eff
		r = Rect{X: start.X, Y: start.Y, Width: w, Height: h}
	case HandleSW:
		h = w / eff
		r = Rect{X: startRight - w, Y: start.Y, Width: w, Height: h}
	case HandleNE:
		h = w / eff
		r = Rect{X: start.X, Y: startBottom - h, Width: w, Height: h}
	case HandleNW:
		h = w / eff
		r = Rect{X: startRight - w, Y: startBottom - h, Width: w, Height: h}
	default:
		return r
	}

	return Clamp(r)
}

// RemapDragDelta converts a mouse-movement delta observed in display space
// into the equivalent delta in source space: the inverse rotation is applied
// first, then sign flips for the active flips. Drag handles are grabbed in
// display space while the stored rectangle lives in source space.
func RemapDragDelta(dx, dy float64, rotation int, flipH, flipV bool) (float64, float64) {
	var sx, sy float64
	switch normalizeRotation(rotation) {
	case 90:
		sx, sy = dy, -dx
	case 180:
		sx, sy = -dx, -dy
	case 270:
		sx, sy = -dy, dx
	default:
		sx, sy = dx, dy
	}
	if flipH {
		sx = -sx
	}
	if flipV {
		sy = -sy
	}
	return sx, sy
}

// HandleCursor maps a handle to a CSS-style cursor-orientation hint. When the
// display is side-rotated the n/s handles visually become e/w drags and vice
// versa, so the hints are swapped accordingly.
func HandleCursor(handle Handle, isSideRotation bool) string {
	if isSideRotation {
		switch handle {
		case HandleN, HandleS:
			return "ew-resize"
		case HandleE, HandleW:
			return "ns-resize"
		case HandleNE, HandleSW:
			return "nwse-resize"
		case HandleNW, HandleSE:
			return "nesw-resize"
		}
	} else {
		switch handle {
		case HandleN, HandleS:
			return "ns-resize"
		case HandleE, HandleW:
			return "ew-resize"
		case HandleNE, HandleSW:
			return "nesw-resize"
		case HandleNW, HandleSE:
			return "nwse-resize"
		}
	}
	return "move"
}
