package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/beetlebugorg/lascat/pkg/las"
)

func safeReadFile(path string) (*las.PointSet, error) {
	ps, err := las.ReadFile(path, las.ReadOptions{})
	if err != nil {
		// Check if file exists
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("point cloud not found: %s", path)
		}

		// Typed errors carry the details
		var corrupt *las.CorruptStreamError
		if errors.As(err, &corrupt) {
			log.Printf("Corrupt payload in %s: %v", path, corrupt)
		}
		return nil, err
	}

	// Validate point data
	report := ps.Validate()
	for _, issue := range report.Warnings {
		log.Printf("Warning: %s: %s", path, issue.Message)
	}
	if !report.OK() {
		return nil, fmt.Errorf("%s failed validation:\n%s", path, report)
	}

	return ps, nil
}

func main() {
	// Try to read a file
	ps, err := safeReadFile("forest.las")
	if err != nil {
		log.Printf("Error: %v", err)
		return
	}
	fmt.Printf("Successfully loaded %d points\n", ps.Len())

	// Try to read a non-existent file
	if _, err = safeReadFile("NONEXISTENT.las"); err != nil {
		log.Printf("Expected error: %v", err)
	}

	// A failing chunk does not stop the run
	cat, err := las.Discover(context.Background(), ".", las.DefaultDiscoverOptions())
	if err != nil {
		log.Fatal(err)
	}
	eng := las.NewEngine(las.EngineOptions{Partition: las.ByFile{}})
	_, summary, err := eng.Run(context.Background(), cat, func(ctx context.Context, d *las.ChunkData) (*las.Result, error) {
		if d.Points.Len() == 0 {
			return nil, errors.New("no points")
		}
		return &las.Result{}, nil
	})
	if err != nil {
		log.Fatal(err)
	}

	var cpe *las.ChunkProcessingError
	if errors.As(summary.Err(), &cpe) {
		log.Printf("Chunk %d failed (files %v): %v", cpe.ChunkID, cpe.Files, cpe.Err)
	}
	fmt.Println(summary)
}
