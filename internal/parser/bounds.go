package parser

import "math"

// Bounds is an axis-aligned box in projected coordinate units.
//
// Two-dimensional predicates (Contains, Intersects) ignore Z; catalog and
// chunk logic works in plan view.
type Bounds struct {
	MinX, MinY, MinZ float64
	MaxX, MaxY, MaxZ float64
}

// EmptyBounds returns an inverted box that any Extend call replaces.
func EmptyBounds() Bounds {
	inf := math.Inf(1)
	return Bounds{
		MinX: inf, MinY: inf, MinZ: inf,
		MaxX: -inf, MaxY: -inf, MaxZ: -inf,
	}
}

// IsEmpty reports whether the box holds no point at all.
func (b Bounds) IsEmpty() bool {
	return b.MinX > b.MaxX || b.MinY > b.MaxY
}

// Contains returns true if (x, y) is inside the box, edges included.
func (b Bounds) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX &&
		y >= b.MinY && y <= b.MaxY
}

// Contains3D also tests z against the vertical extent.
func (b Bounds) Contains3D(x, y, z float64) bool {
	return b.Contains(x, y) && z >= b.MinZ && z <= b.MaxZ
}

// ContainsBounds returns true if o lies wholly inside b in plan view.
func (b Bounds) ContainsBounds(o Bounds) bool {
	return o.MinX >= b.MinX && o.MaxX <= b.MaxX &&
		o.MinY >= b.MinY && o.MaxY <= b.MaxY
}

// Intersects returns true if the boxes overlap or touch in plan view.
func (b Bounds) Intersects(o Bounds) bool {
	return !(o.MaxX < b.MinX ||
		o.MinX > b.MaxX ||
		o.MaxY < b.MinY ||
		o.MinY > b.MaxY)
}

// Expand returns the box grown by margin on all four plan-view sides.
func (b Bounds) Expand(margin float64) Bounds {
	b.MinX -= margin
	b.MinY -= margin
	b.MaxX += margin
	b.MaxY += margin
	return b
}

// Union returns the smallest box covering both.
func (b Bounds) Union(o Bounds) Bounds {
	return Bounds{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MinZ: math.Min(b.MinZ, o.MinZ),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
		MaxZ: math.Max(b.MaxZ, o.MaxZ),
	}
}

// Extend grows the box to include the point.
func (b *Bounds) Extend(x, y, z float64) {
	if x < b.MinX {
		b.MinX = x
	}
	if x > b.MaxX {
		b.MaxX = x
	}
	if y < b.MinY {
		b.MinY = y
	}
	if y > b.MaxY {
		b.MaxY = y
	}
	if z < b.MinZ {
		b.MinZ = z
	}
	if z > b.MaxZ {
		b.MaxZ = z
	}
}

// Width is the X extent.
func (b Bounds) Width() float64 { return b.MaxX - b.MinX }

// Height is the Y extent.
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }
