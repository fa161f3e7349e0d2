package las

import (
	"errors"
	"math"
	"sort"
)

// ErrStaleIndex is returned when querying an index whose PointSet changed
// after the index was built.
var ErrStaleIndex = errors.New("spatial index is stale: point set was modified")

// IndexOptions controls grid resolution.
type IndexOptions struct {
	// PointsPerCell is the target average cell occupancy. Smaller values
	// give finer cells: faster narrow queries, more index memory. Results
	// are exact for any value.
	// Default: 16
	PointsPerCell int
}

// DefaultIndexOptions returns the default grid resolution.
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{PointsPerCell: 16}
}

// SpatialIndex is a uniform 2D grid over a PointSet. Point indices are
// stored cell by cell in one array (compressed sparse rows): the points of
// cell c are order[cellStart[c]:cellStart[c+1]], ascending.
//
// The index is read-only and safe for concurrent queries.
//
// Example:
//
//	idx := las.BuildIndex(ps, las.DefaultIndexOptions())
//	hits, err := idx.Query(las.Circle{X: 500120, Y: 4000080, R: 5})
//	if err != nil {
//	    log.Fatal(err) // ps was modified since BuildIndex
//	}
//	for _, i := range hits {
//	    fmt.Println(ps.Point(i).Z)
//	}
type SpatialIndex struct {
	ps      *PointSet
	version uint64

	bounds Bounds
	cell   float64
	nx, ny int

	cellStart []int32
	order     []int32
}

// BuildIndex indexes every point of ps.
func BuildIndex(ps *PointSet, opts IndexOptions) *SpatialIndex {
	ppc := opts.PointsPerCell
	if ppc <= 0 {
		ppc = DefaultIndexOptions().PointsPerCell
	}

	idx := &SpatialIndex{ps: ps, version: ps.version}
	pts := ps.points
	n := len(pts)
	idx.bounds = ps.Bounds()

	w, h := idx.bounds.Width(), idx.bounds.Height()
	cells := n / ppc
	if cells < 1 {
		cells = 1
	}
	switch {
	case w > 0 && h > 0:
		idx.cell = math.Sqrt(w * h / float64(cells))
	case w > 0 || h > 0:
		idx.cell = math.Max(w, h) / float64(cells)
	default:
		idx.cell = 1
	}
	idx.nx = gridCount(w, idx.cell)
	idx.ny = gridCount(h, idx.cell)
	// thin strips round up to many near-empty cells
	for idx.nx*idx.ny > 4*cells+4 {
		idx.cell *= 2
		idx.nx = gridCount(w, idx.cell)
		idx.ny = gridCount(h, idx.cell)
	}

	// counting sort of point ids by cell
	cellOf := make([]int32, n)
	idx.cellStart = make([]int32, idx.nx*idx.ny+1)
	for i := range pts {
		c := int32(idx.cellIndex(pts[i].X, pts[i].Y))
		cellOf[i] = c
		idx.cellStart[c+1]++
	}
	for c := 1; c < len(idx.cellStart); c++ {
		idx.cellStart[c] += idx.cellStart[c-1]
	}
	idx.order = make([]int32, n)
	next := append([]int32(nil), idx.cellStart[:len(idx.cellStart)-1]...)
	for i, c := range cellOf {
		idx.order[next[c]] = int32(i)
		next[c]++
	}

	return idx
}

func gridCount(extent, cell float64) int {
	n := int(math.Ceil(extent / cell))
	if n < 1 {
		n = 1
	}
	return n
}

func (idx *SpatialIndex) col(x float64) int {
	c := int((x - idx.bounds.MinX) / idx.cell)
	return clamp(c, 0, idx.nx-1)
}

func (idx *SpatialIndex) row(y float64) int {
	r := int((y - idx.bounds.MinY) / idx.cell)
	return clamp(r, 0, idx.ny-1)
}

func (idx *SpatialIndex) cellIndex(x, y float64) int {
	return idx.row(y)*idx.nx + idx.col(x)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Query returns the ascending indices of every point inside r.
//
// Candidates come from the cells overlapping r's bounding box; each one is
// then tested exactly, except that all points of a cell lying wholly inside
// a Box are accepted directly.
func (idx *SpatialIndex) Query(r Region) ([]int, error) {
	if idx.version != idx.ps.version {
		return nil, ErrStaleIndex
	}
	if len(idx.order) == 0 {
		return nil, nil
	}

	rb := r.Bounds()
	if !rb.Intersects(idx.bounds) {
		return nil, nil
	}

	box, isBox := r.(Box)
	pts := idx.ps.points
	var out []int

	c0, c1 := idx.col(rb.MinX), idx.col(rb.MaxX)
	r0, r1 := idx.row(rb.MinY), idx.row(rb.MaxY)
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			c := row*idx.nx + col
			ids := idx.order[idx.cellStart[c]:idx.cellStart[c+1]]
			if len(ids) == 0 {
				continue
			}
			if isBox && box.Bounds().ContainsBounds(idx.cellBounds(col, row)) {
				for _, i := range ids {
					out = append(out, int(i))
				}
				continue
			}
			for _, i := range ids {
				p := &pts[i]
				if r.Contains(p.X, p.Y) {
					out = append(out, int(i))
				}
			}
		}
	}

	sort.Ints(out)
	return out, nil
}

// cellBounds returns the extent a cell's points may occupy, widened by a
// rounding margin. Edge cells extend to the index bounds since out-of-grid
// coordinates are clamped into them.
func (idx *SpatialIndex) cellBounds(col, row int) Bounds {
	ib := idx.bounds
	eps := idx.cell*1e-9 + 1e-12*(math.Abs(ib.MinX)+math.Abs(ib.MaxX)+math.Abs(ib.MinY)+math.Abs(ib.MaxY))
	b := Bounds{
		MinX: idx.bounds.MinX + float64(col)*idx.cell - eps,
		MinY: idx.bounds.MinY + float64(row)*idx.cell - eps,
		MaxX: idx.bounds.MinX + float64(col+1)*idx.cell + eps,
		MaxY: idx.bounds.MinY + float64(row+1)*idx.cell + eps,
	}
	if col == idx.nx-1 {
		b.MaxX = math.Max(b.MaxX, idx.bounds.MaxX+eps)
	}
	if row == idx.ny-1 {
		b.MaxY = math.Max(b.MaxY, idx.bounds.MaxY+eps)
	}
	return b
}

// Stale reports whether the PointSet changed since the index was built.
func (idx *SpatialIndex) Stale() bool {
	return idx.version != idx.ps.version
}

// Grid returns the number of columns and rows and the cell size.
func (idx *SpatialIndex) Grid() (nx, ny int, cell float64) {
	return idx.nx, idx.ny, idx.cell
}

// PointSet returns the indexed set.
func (idx *SpatialIndex) PointSet() *PointSet {
	return idx.ps
}

// memorySize estimates the index footprint in bytes.
func (idx *SpatialIndex) memorySize() int64 {
	return int64(len(idx.cellStart)+len(idx.order)) * 4
}
