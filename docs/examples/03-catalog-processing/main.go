package main

import (
	"context"
	"fmt"
	"log"

	"github.com/beetlebugorg/lascat/pkg/las"
)

// countPoints reports how many points each chunk owns.
func countPoints(ctx context.Context, d *las.ChunkData) (*las.Result, error) {
	n := 0
	for _, p := range d.Points.Points() {
		if d.InCore(p.X, p.Y) {
			n++
		}
	}
	return &las.Result{Rows: []las.Row{{"chunk": d.Chunk.ID, "points": n}}}, nil
}

func main() {
	ctx := context.Background()

	// Index every file under the directory from headers alone
	opts := las.DefaultDiscoverOptions()
	opts.HeaderCache = "headers.db"
	cat, err := las.Discover(ctx, "tiles", opts)
	if err != nil {
		log.Fatal(err)
	}
	for _, err := range cat.Skipped {
		log.Printf("Skipped: %v", err)
	}

	fmt.Printf("Catalog contains %d files, %d points\n\n", cat.Len(), cat.PointCount())

	// Files touching an area
	b := cat.Bounds()
	area := las.Bounds{MinX: b.MinX, MinY: b.MinY, MaxX: b.MinX + 100, MaxY: b.MinY + 100}
	for _, f := range cat.Query(area) {
		fmt.Printf("  %s: %d points\n", f.Path, f.PointCount)
	}

	// Process in 250m tiles with a 5m buffer
	eng := las.NewEngine(las.EngineOptions{
		Workers:   4,
		Partition: las.ByTile{Size: 250, Buffer: 5},
	})

	res, summary, err := eng.Run(ctx, cat, countPoints)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(summary)
	for _, row := range res.Rows {
		fmt.Printf("  chunk %v: %v points\n", row["chunk"], row["points"])
	}

	// Tree tops, independent of the tiling
	res, summary, err = eng.Run(ctx, cat, las.TreeTops(5, 2))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("\n%d tree tops (%s)\n", len(res.Features), summary)
}
