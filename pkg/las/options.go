package las

import "runtime"

// EngineOptions configures a catalog run.
type EngineOptions struct {
	// Workers bounds the number of chunks processed at once.
	// If 0, defaults to runtime.NumCPU().
	Workers int

	// Partition splits the catalog into chunks.
	// Default: ByFile{}
	Partition Partitioner

	// Select lists the fields decoded for processing functions.
	// Zero selects every field.
	Select FieldMask

	// Filter drops points at decode time in every chunk.
	Filter *Filter

	// CacheSize enables a PointSetCache of about this many bytes. Whole
	// files are then decoded once and clipped per chunk through a grid
	// index instead of being re-read with a box filter.
	CacheSize int64

	// Index sets the grid resolution of ChunkData.Index.
	Index IndexOptions

	// Progress is an optional callback invoked after each chunk, from
	// worker goroutines but never concurrently.
	Progress func(done, total int)
}

// DefaultEngineOptions returns engine options with sensible defaults.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		Workers:   runtime.NumCPU(),
		Partition: ByFile{},
		Select:    FieldAll,
		Index:     DefaultIndexOptions(),
	}
}
