package main

import (
	"fmt"
	"log"

	"github.com/beetlebugorg/lascat/pkg/las"
)

func main() {
	ps, err := las.ReadFile("forest.las", las.ReadOptions{})
	if err != nil {
		log.Fatal(err)
	}

	// Build the grid index once, query many times
	idx := las.BuildIndex(ps, las.DefaultIndexOptions())

	b := ps.Header.Bounds
	cx, cy := (b.MinX+b.MaxX)/2, (b.MinY+b.MaxY)/2

	regions := map[string]las.Region{
		"box":    las.Box{MinX: cx - 25, MinY: cy - 25, MaxX: cx + 25, MaxY: cy + 25},
		"circle": las.Circle{X: cx, Y: cy, R: 15},
	}

	// A plot with a clearing in the middle
	plot, err := las.NewPolygon([][][2]float64{
		{{cx - 30, cy - 30}, {cx + 30, cy - 30}, {cx + 30, cy + 30}, {cx - 30, cy + 30}},
		{{cx - 5, cy - 5}, {cx + 5, cy - 5}, {cx + 5, cy + 5}, {cx - 5, cy + 5}},
	})
	if err != nil {
		log.Fatal(err)
	}
	regions["plot"] = plot

	for name, r := range regions {
		hits, err := idx.Query(r)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%-6s %d points\n", name, len(hits))
	}

	// Clip returns the points as a new set
	clipped, err := ps.Clip(regions["circle"])
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Clipped bounds: [%.2f,%.2f] to [%.2f,%.2f]\n",
		clipped.Header.Bounds.MinX, clipped.Header.Bounds.MinY,
		clipped.Header.Bounds.MaxX, clipped.Header.Bounds.MaxY)
}
