package las

import (
	"fmt"
	"math"
)

// Chunk is one unit of catalog work: a core region plus a buffer margin.
// Points within the buffer give processing functions context across the
// core edge; output is clipped back to the core before merging.
type Chunk struct {
	ID     int
	Core   Bounds
	Buffer float64

	// Region, when set, is the exact core shape; Core is its bounding box.
	Region Region

	// Files lists the files intersecting the buffered box. The engine
	// resolves it when the chunk is processed.
	Files []string

	// A tile core is half-open [min, max) on each axis except where these
	// are set, which marks tiles on the outer max edge of the catalog.
	closedX, closedY bool
	halfOpen         bool
}

// BufferedBounds returns the core expanded by the buffer.
func (c *Chunk) BufferedBounds() Bounds {
	if c.Region != nil {
		return c.Region.Bounds().Expand(c.Buffer)
	}
	return c.Core.Expand(c.Buffer)
}

// Owns reports whether (x, y) lies in the core.
func (c *Chunk) Owns(x, y float64) bool {
	if c.Region != nil {
		return c.Region.Contains(x, y)
	}
	if !c.halfOpen {
		return c.Core.Contains(x, y)
	}
	if x < c.Core.MinX || y < c.Core.MinY {
		return false
	}
	if x > c.Core.MaxX || (x == c.Core.MaxX && !c.closedX) {
		return false
	}
	if y > c.Core.MaxY || (y == c.Core.MaxY && !c.closedY) {
		return false
	}
	return true
}

func (c *Chunk) String() string {
	return fmt.Sprintf("chunk %d [%g %g, %g %g] +%g", c.ID,
		c.Core.MinX, c.Core.MinY, c.Core.MaxX, c.Core.MaxY, c.Buffer)
}

// Partitioner splits a catalog into chunks.
type Partitioner interface {
	Partition(c *Catalog) ([]Chunk, error)
}

// ByFile makes one chunk per file; the core is the file's bounding box.
type ByFile struct {
	Buffer float64
}

func (p ByFile) Partition(c *Catalog) ([]Chunk, error) {
	if p.Buffer < 0 {
		return nil, fmt.Errorf("negative buffer %g", p.Buffer)
	}
	var chunks []Chunk
	for _, f := range c.Files() {
		if f.PointCount == 0 || f.Bounds.IsEmpty() {
			continue
		}
		chunks = append(chunks, Chunk{ID: len(chunks), Core: f.Bounds, Buffer: p.Buffer})
	}
	return chunks, nil
}

// ByTile cuts the catalog extent into square tiles aligned on Origin.
// Tiles that intersect no file are dropped; the rest cover every file box
// without gaps, and each point falls in exactly one tile core.
type ByTile struct {
	Size   float64
	Origin [2]float64
	Buffer float64
}

func (p ByTile) Partition(c *Catalog) ([]Chunk, error) {
	if !(p.Size > 0) || math.IsInf(p.Size, 0) {
		return nil, fmt.Errorf("invalid tile size %g", p.Size)
	}
	if p.Buffer < 0 {
		return nil, fmt.Errorf("negative buffer %g", p.Buffer)
	}

	b := c.Bounds()
	if c.rtree.Size() == 0 {
		return nil, nil
	}

	x0, x1 := tileRange(b.MinX, b.MaxX, p.Origin[0], p.Size)
	y0, y1 := tileRange(b.MinY, b.MaxY, p.Origin[1], p.Size)
	if (x1-x0+1)*(y1-y0+1) > 1<<24 {
		return nil, fmt.Errorf("tile size %g gives too many tiles over %gx%g", p.Size, b.Width(), b.Height())
	}

	var chunks []Chunk
	for ty := y0; ty <= y1; ty++ {
		for tx := x0; tx <= x1; tx++ {
			core := Bounds{
				MinX: p.Origin[0] + float64(tx)*p.Size,
				MinY: p.Origin[1] + float64(ty)*p.Size,
				MaxX: p.Origin[0] + float64(tx+1)*p.Size,
				MaxY: p.Origin[1] + float64(ty+1)*p.Size,
				MinZ: b.MinZ,
				MaxZ: b.MaxZ,
			}
			if len(c.Query(core)) == 0 {
				continue
			}
			chunks = append(chunks, Chunk{
				ID:       len(chunks),
				Core:     core,
				Buffer:   p.Buffer,
				halfOpen: true,
				closedX:  tx == x1,
				closedY:  ty == y1,
			})
		}
	}
	return chunks, nil
}

// tileRange returns the first and last tile index covering [lo, hi]. The
// last tile's core is closed, so hi on a grid line stays in it.
func tileRange(lo, hi, origin, size float64) (int, int) {
	first := int(math.Floor((lo - origin) / size))
	last := int(math.Ceil((hi-origin)/size)) - 1
	if last < first {
		last = first
	}
	// floating error can leave hi just past the last tile
	for origin+float64(last+1)*size < hi {
		last++
	}
	for origin+float64(first)*size > lo {
		first--
	}
	return first, last
}

// ByRegions makes one chunk per user region. Regions need not cover the
// catalog; where they overlap, a point belongs to the earliest region.
type ByRegions struct {
	Regions []Region
	Buffer  float64
}

func (p ByRegions) Partition(c *Catalog) ([]Chunk, error) {
	if p.Buffer < 0 {
		return nil, fmt.Errorf("negative buffer %g", p.Buffer)
	}
	chunks := make([]Chunk, 0, len(p.Regions))
	for i, r := range p.Regions {
		if r == nil {
			return nil, fmt.Errorf("region %d is nil", i)
		}
		chunks = append(chunks, Chunk{ID: i, Core: r.Bounds(), Region: r, Buffer: p.Buffer})
	}
	return chunks, nil
}
