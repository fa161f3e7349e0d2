package las

import (
	"github.com/beetlebugorg/lascat/internal/parser"
)

// PointSet is an ordered sequence of points with its owning header.
//
// Every mutation bumps a version counter; a SpatialIndex built earlier
// then refuses queries with ErrStaleIndex.
type PointSet struct {
	Header *Header

	points  []PointRecord
	version uint64
}

// NewPointSet wraps pts. The PointSet takes ownership of the slice.
func NewPointSet(h *Header, pts []PointRecord) *PointSet {
	return &PointSet{Header: h, points: pts}
}

// Len returns the number of points.
func (ps *PointSet) Len() int {
	return len(ps.points)
}

// Point returns the i-th point.
func (ps *PointSet) Point(i int) PointRecord {
	return ps.points[i]
}

// Points returns the backing slice. Callers must not modify it; use Set,
// Append, Retain or Update instead.
func (ps *PointSet) Points() []PointRecord {
	return ps.points
}

// Version returns the mutation counter.
func (ps *PointSet) Version() uint64 {
	return ps.version
}

// Set replaces the i-th point.
func (ps *PointSet) Set(i int, p PointRecord) {
	ps.points[i] = p
	ps.version++
}

// Append adds points at the end.
func (ps *PointSet) Append(pts ...PointRecord) {
	ps.points = append(ps.points, pts...)
	ps.version++
}

// Retain keeps the points for which keep returns true, preserving order.
func (ps *PointSet) Retain(keep func(p *PointRecord) bool) {
	out := ps.points[:0]
	for i := range ps.points {
		if keep(&ps.points[i]) {
			out = append(out, ps.points[i])
		}
	}
	ps.points = out
	ps.version++
}

// Update hands the backing slice to fn for in-place edits.
func (ps *PointSet) Update(fn func(pts []PointRecord)) {
	fn(ps.points)
	ps.version++
}

// Bounds computes the extent of the points. An empty set has zero bounds.
func (ps *PointSet) Bounds() Bounds {
	if len(ps.points) == 0 {
		return Bounds{}
	}
	b := parser.EmptyBounds()
	for i := range ps.points {
		p := &ps.points[i]
		b.Extend(p.X, p.Y, p.Z)
	}
	return b
}

// Summarize rewrites the header point count, points-by-return and bounds
// from the data.
func (ps *PointSet) Summarize() {
	if ps.Header == nil {
		return
	}
	parser.Summarize(ps.Header, ps.points)
}

// Subset copies the points at idx into a new PointSet with a summarized
// copy of the header.
func (ps *PointSet) Subset(idx []int) *PointSet {
	pts := make([]PointRecord, len(idx))
	for i, j := range idx {
		pts[i] = ps.points[j]
	}
	out := &PointSet{points: pts}
	if ps.Header != nil {
		out.Header = ps.Header.Clone()
		out.Summarize()
	}
	return out
}

// Clip returns the points inside r as a new PointSet.
func (ps *PointSet) Clip(r Region) (*PointSet, error) {
	idx, err := BuildIndex(ps, DefaultIndexOptions()).Query(r)
	if err != nil {
		return nil, err
	}
	return ps.Subset(idx), nil
}

// Validate runs every structural check.
func (ps *PointSet) Validate() Report {
	return Validate(ps)
}
