package las

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Region is a 2D query area. Contains must agree with Bounds: every point
// it accepts lies inside Bounds.
type Region interface {
	Bounds() Bounds
	Contains(x, y float64) bool
}

// Box is an axis-aligned rectangle. Edges are inside.
type Box struct {
	MinX, MinY, MaxX, MaxY float64
}

// BoxOf returns the 2D extent of b.
func BoxOf(b Bounds) Box {
	return Box{MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY}
}

func (b Box) Bounds() Bounds {
	return Bounds{MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY}
}

func (b Box) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

func (b Box) String() string {
	return fmt.Sprintf("box[%g %g, %g %g]", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// Circle holds points at distance <= R from the centre.
type Circle struct {
	X, Y, R float64
}

func (c Circle) Bounds() Bounds {
	return Bounds{MinX: c.X - c.R, MinY: c.Y - c.R, MaxX: c.X + c.R, MaxY: c.Y + c.R}
}

func (c Circle) Contains(x, y float64) bool {
	dx, dy := x-c.X, y-c.Y
	return dx*dx+dy*dy <= c.R*c.R
}

func (c Circle) String() string {
	return fmt.Sprintf("circle[%g %g r=%g]", c.X, c.Y, c.R)
}

// Polygon is a polygon with optional holes. The first ring is the outer
// boundary. Points on the outer ring are inside, points on a hole ring are
// outside.
type Polygon struct {
	poly  orb.Polygon
	bound Bounds
}

// NewPolygon builds a polygon from rings of [x, y] vertices. Rings are
// closed automatically.
//
// Example:
//
//	stand := las.NewPolygon([][][2]float64{
//	    {{0, 0}, {100, 0}, {100, 80}, {0, 80}},
//	    {{40, 30}, {60, 30}, {60, 50}, {40, 50}}, // clearing
//	})
func NewPolygon(rings [][][2]float64) (*Polygon, error) {
	if len(rings) == 0 || len(rings[0]) < 3 {
		return nil, fmt.Errorf("polygon needs an outer ring with at least 3 vertices")
	}

	poly := make(orb.Polygon, 0, len(rings))
	for i, ring := range rings {
		if len(ring) < 3 {
			return nil, fmt.Errorf("ring %d has %d vertices, need at least 3", i, len(ring))
		}
		r := make(orb.Ring, 0, len(ring)+1)
		for _, v := range ring {
			r = append(r, orb.Point{v[0], v[1]})
		}
		if !r.Closed() {
			r = append(r, r[0])
		}
		poly = append(poly, r)
	}

	return PolygonFromOrb(poly), nil
}

// PolygonFromOrb wraps an orb polygon.
func PolygonFromOrb(p orb.Polygon) *Polygon {
	ob := p.Bound()
	return &Polygon{
		poly:  p,
		bound: Bounds{MinX: ob.Min[0], MinY: ob.Min[1], MaxX: ob.Max[0], MaxY: ob.Max[1]},
	}
}

func (p *Polygon) Bounds() Bounds {
	return p.bound
}

func (p *Polygon) Contains(x, y float64) bool {
	if !p.bound.Contains(x, y) {
		return false
	}
	return planar.PolygonContains(p.poly, orb.Point{x, y})
}

// Orb returns the underlying orb polygon.
func (p *Polygon) Orb() orb.Polygon {
	return p.poly
}

func (p *Polygon) String() string {
	return fmt.Sprintf("polygon[%d rings]", len(p.poly))
}
