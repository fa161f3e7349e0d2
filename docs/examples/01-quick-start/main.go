package main

import (
	"fmt"
	"log"

	"github.com/beetlebugorg/lascat/pkg/las"
)

func main() {
	// Read every point of a file
	ps, err := las.ReadFile("forest.las", las.ReadOptions{})
	if err != nil {
		log.Fatal(err)
	}

	// Print file info
	h := ps.Header
	fmt.Printf("Version: %s\n", h.Version())
	fmt.Printf("Point format: %d\n", h.PointFormat)
	fmt.Printf("Points: %d\n", ps.Len())
	fmt.Printf("CRS: %s\n", h.CRS())

	// Get bounds
	b := h.Bounds
	fmt.Printf("Bounds: [%.2f,%.2f,%.2f] to [%.2f,%.2f,%.2f]\n",
		b.MinX, b.MinY, b.MinZ,
		b.MaxX, b.MaxY, b.MaxZ)

	// Decode only what is needed: XYZ and intensity of first returns
	sel, err := las.ParseSelect("xyzi")
	if err != nil {
		log.Fatal(err)
	}
	first, err := las.ReadFile("forest.las", las.ReadOptions{
		Select: sel,
		Filter: las.MustParseFilter("-keep_first"),
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("First returns: %d\n", first.Len())

	// Write them back out compressed
	if err := las.WriteFile("first.las", first, las.WriteOptions{Compression: las.CodecZstd}); err != nil {
		log.Fatal(err)
	}
}
