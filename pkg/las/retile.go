package las

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Retile returns a ProcessFunc that writes the core points of each chunk
// to its own file in dir. Buffer points are not written, so tiles from a
// ByTile partition never overlap. Chunks without core points produce no
// file. Each written file is reported as a row with "chunk", "path" and
// "points" columns.
//
// Example:
//
//	eng := las.NewEngine(las.EngineOptions{Partition: las.ByTile{Size: 1000}})
//	res, summary, err := eng.Run(ctx, cat, las.Retile("out", las.WriteOptions{Compression: las.CodecZstd}))
func Retile(dir string, opts WriteOptions) ProcessFunc {
	opts.RegenerateHeader = true
	return func(ctx context.Context, d *ChunkData) (*Result, error) {
		var core []PointRecord
		for _, p := range d.Points.Points() {
			if d.InCore(p.X, p.Y) {
				core = append(core, p)
			}
		}
		if len(core) == 0 {
			return &Result{}, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		name := fmt.Sprintf("tile_%d_%d_%d.las", d.Chunk.ID,
			int64(math.Floor(d.Chunk.Core.MinX)), int64(math.Floor(d.Chunk.Core.MinY)))
		path := filepath.Join(dir, name)

		h := d.Points.Header.Clone()
		if err := WriteFile(path, NewPointSet(h, core), opts); err != nil {
			os.Remove(path)
			return nil, err
		}

		return &Result{Rows: []Row{{
			"chunk":  d.Chunk.ID,
			"path":   path,
			"points": len(core),
		}}}, nil
	}
}
