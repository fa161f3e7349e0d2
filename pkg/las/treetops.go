package las

import (
	"context"
	"fmt"
)

// TreeTops returns a ProcessFunc detecting tree tops with a local maximum
// filter: a point at or above minHeight is a top when no other point within
// window/2 of it is higher. Equal heights are ordered by X then Y so that
// exactly one point of a flat crown wins.
//
// Only tops inside the chunk core are reported. The chunk buffer must be
// at least window/2 for results to be independent of the partitioning.
//
// Example:
//
//	eng := las.NewEngine(las.EngineOptions{Partition: las.ByTile{Size: 500, Buffer: 5}})
//	res, _, err := eng.Run(ctx, cat, las.TreeTops(6, 2))
func TreeTops(window, minHeight float64) ProcessFunc {
	radius := window / 2
	return func(ctx context.Context, d *ChunkData) (*Result, error) {
		if !(window > 0) {
			return nil, fmt.Errorf("tree top window must be positive, got %g", window)
		}
		if d.Chunk.Buffer < radius {
			return nil, fmt.Errorf("chunk buffer %g is smaller than the search radius %g", d.Chunk.Buffer, radius)
		}

		idx := d.Index()
		pts := d.Points.Points()
		res := &Result{}

		for i := range pts {
			if i%ctxCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}

			p := &pts[i]
			if p.Z < minHeight || !d.InCore(p.X, p.Y) {
				continue
			}

			hits, err := idx.Query(Circle{X: p.X, Y: p.Y, R: radius})
			if err != nil {
				return nil, err
			}
			if isLocalMax(pts, i, hits) {
				res.Features = append(res.Features, Feature{
					X: p.X, Y: p.Y, Z: p.Z,
					Properties: map[string]any{"height": p.Z},
				})
			}
		}
		return res, nil
	}
}

// isLocalMax reports whether point i beats every neighbour. Exact
// duplicates defer to the earliest copy.
func isLocalMax(pts []PointRecord, i int, neighbours []int) bool {
	p := &pts[i]
	for _, j := range neighbours {
		if j == i {
			continue
		}
		q := &pts[j]
		if q.Z != p.Z {
			if q.Z > p.Z {
				return false
			}
			continue
		}
		if q.X != p.X {
			if q.X > p.X {
				return false
			}
			continue
		}
		if q.Y > p.Y || (q.Y == p.Y && j < i) {
			return false
		}
	}
	return true
}
