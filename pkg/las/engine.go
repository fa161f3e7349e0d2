package las

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/beetlebugorg/lascat/internal/parser"
)

// ctxCheckInterval is how many records a loader decodes between
// cancellation checks.
const ctxCheckInterval = 4096

// Feature is a point-located output such as a detected tree top.
type Feature struct {
	X, Y, Z    float64
	Properties map[string]any
}

// Row is one record of tabular output.
type Row map[string]any

// Result is the output of a processing function, and of a whole run after
// merging. Points and Features are spatial and are clipped to the chunk
// core; Rows are concatenated as returned.
type Result struct {
	Points   []PointRecord
	Features []Feature
	Rows     []Row
}

// ChunkData is what a processing function receives: the chunk and the
// points of its buffered box. The function owns the data for the duration
// of the call.
type ChunkData struct {
	Chunk  Chunk
	Points *PointSet

	owner     func(x, y float64) bool
	indexOpts IndexOptions
	indexOnce sync.Once
	index     *SpatialIndex
}

// InCore reports whether a location belongs to this chunk, and so whether
// output there survives the merge.
func (d *ChunkData) InCore(x, y float64) bool {
	if d.owner == nil {
		return d.Chunk.Owns(x, y)
	}
	return d.owner(x, y)
}

// Index returns a grid index over Points, built on first use.
func (d *ChunkData) Index() *SpatialIndex {
	d.indexOnce.Do(func() {
		d.index = BuildIndex(d.Points, d.indexOpts)
	})
	return d.index
}

// ProcessFunc processes one chunk. It must depend only on the data it is
// given so that results do not change with the partitioning.
type ProcessFunc func(ctx context.Context, data *ChunkData) (*Result, error)

// ChunkProcessingError records a chunk whose loading or processing failed.
type ChunkProcessingError struct {
	ChunkID int
	Core    Bounds
	Files   []string
	Panic   bool
	Err     error
}

func (e *ChunkProcessingError) Error() string {
	kind := "failed"
	if e.Panic {
		kind = "panicked"
	}
	return fmt.Sprintf("chunk %d [%g %g, %g %g] %s: %v", e.ChunkID,
		e.Core.MinX, e.Core.MinY, e.Core.MaxX, e.Core.MaxY, kind, e.Err)
}

func (e *ChunkProcessingError) Unwrap() error {
	return e.Err
}

// Summary reports the outcome of a run.
type Summary struct {
	RunID     uuid.UUID
	Total     int
	Succeeded int
	Failed    int
	Failures  []*ChunkProcessingError
	Elapsed   time.Duration
}

// Err joins the chunk failures, or returns nil when every chunk succeeded.
func (s *Summary) Err() error {
	if len(s.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(s.Failures))
	for i, f := range s.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

func (s *Summary) String() string {
	return fmt.Sprintf("run %s: %d chunks, %d succeeded, %d failed in %s",
		s.RunID, s.Total, s.Succeeded, s.Failed, s.Elapsed.Round(time.Millisecond))
}

// Engine runs processing functions over a catalog chunk by chunk.
type Engine struct {
	opts  EngineOptions
	cache *PointSetCache
}

// NewEngine creates an engine. Zero-valued options take their defaults.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Partition == nil {
		opts.Partition = ByFile{}
	}
	e := &Engine{opts: opts}
	if opts.CacheSize > 0 {
		e.cache = NewPointSetCache(opts.CacheSize)
	}
	return e
}

// Cache returns the engine's PointSetCache, or nil when caching is off.
func (e *Engine) Cache() *PointSetCache {
	return e.cache
}

// Run partitions cat, processes every chunk with fn on up to Workers
// goroutines and merges the results in chunk order.
//
// A chunk that fails or panics is recorded in the Summary and left out of
// the merge; the others still run. Run itself fails only when partitioning
// fails or ctx is cancelled. On cancellation no new chunks start, running
// chunks stop at the next file or record-batch boundary, and Run returns
// ctx.Err() with no merged result. The Summary still counts the chunks
// that completed before cancellation.
//
// Example:
//
//	eng := las.NewEngine(las.EngineOptions{
//	    Workers:   8,
//	    Partition: las.ByTile{Size: 250, Buffer: 10},
//	})
//	res, summary, err := eng.Run(ctx, cat, las.TreeTops(5, 2))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if summary.Failed > 0 {
//	    log.Printf("partial result: %v", summary.Err())
//	}
//	fmt.Printf("%d trees\n", len(res.Features))
func (e *Engine) Run(ctx context.Context, cat *Catalog, fn ProcessFunc) (*Result, *Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: uuid.New()}

	chunks, err := e.opts.Partition.Partition(cat)
	if err != nil {
		return nil, summary, fmt.Errorf("partition catalog: %w", err)
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].ID < chunks[j].ID })
	summary.Total = len(chunks)
	owners := ownershipTests(chunks)

	results := make([]*Result, len(chunks))
	failures := make([]*ChunkProcessingError, len(chunks))
	finished := make([]bool, len(chunks))

	var progressMu sync.Mutex
	done := 0

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i := range chunks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, cerr := e.runChunk(ctx, cat, &chunks[i], owners[i], fn)
			if cerr != nil {
				failures[i] = cerr
			} else {
				results[i] = res
			}
			finished[i] = true
			if e.opts.Progress != nil {
				progressMu.Lock()
				done++
				e.opts.Progress(done, len(chunks))
				progressMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	// chunks cut short by cancellation count as neither succeeded nor failed
	cancelled := ctx.Err()
	for i := range chunks {
		switch {
		case failures[i] != nil:
			if cancelled != nil && errors.Is(failures[i], cancelled) {
				continue
			}
			summary.Failed++
			summary.Failures = append(summary.Failures, failures[i])
			glog.Warningf("run %s: %v", summary.RunID, failures[i])
		case finished[i]:
			summary.Succeeded++
		}
	}
	summary.Elapsed = time.Since(start)

	if cancelled != nil {
		glog.Warningf("%s: cancelled: %v", summary, cancelled)
		return nil, summary, cancelled
	}

	merged := &Result{}
	for i := range chunks {
		if failures[i] == nil {
			mergeResult(merged, results[i], owners[i])
		}
	}
	glog.Infof("%s", summary)

	return merged, summary, nil
}

// ownershipTests builds, for each chunk, the test deciding whether a
// location belongs to it: inside its core and not owned by an earlier
// chunk whose core overlaps it.
func ownershipTests(chunks []Chunk) []func(x, y float64) bool {
	tests := make([]func(x, y float64) bool, len(chunks))
	for k := range chunks {
		c := &chunks[k]
		var earlier []*Chunk
		for j := 0; j < k; j++ {
			if chunks[j].Core.Intersects(c.Core) {
				earlier = append(earlier, &chunks[j])
			}
		}
		tests[k] = func(x, y float64) bool {
			if !c.Owns(x, y) {
				return false
			}
			for _, o := range earlier {
				if o.Owns(x, y) {
					return false
				}
			}
			return true
		}
	}
	return tests
}

func mergeResult(dst, src *Result, owns func(x, y float64) bool) {
	if src == nil {
		return
	}
	for i := range src.Points {
		if owns(src.Points[i].X, src.Points[i].Y) {
			dst.Points = append(dst.Points, src.Points[i])
		}
	}
	for _, f := range src.Features {
		if owns(f.X, f.Y) {
			dst.Features = append(dst.Features, f)
		}
	}
	dst.Rows = append(dst.Rows, src.Rows...)
}

// runChunk loads and processes one chunk, converting errors and panics
// into a ChunkProcessingError.
func (e *Engine) runChunk(ctx context.Context, cat *Catalog, chunk *Chunk, owner func(x, y float64) bool, fn ProcessFunc) (res *Result, cerr *ChunkProcessingError) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			cerr = &ChunkProcessingError{
				ChunkID: chunk.ID,
				Core:    chunk.Core,
				Files:   chunk.Files,
				Panic:   true,
				Err:     fmt.Errorf("panic: %v", r),
			}
		}
	}()

	start := time.Now()
	files := cat.Query(chunk.BufferedBounds())
	chunk.Files = make([]string, len(files))
	for i, f := range files {
		chunk.Files[i] = f.Path
	}

	fail := func(err error) *ChunkProcessingError {
		return &ChunkProcessingError{ChunkID: chunk.ID, Core: chunk.Core, Files: chunk.Files, Err: err}
	}

	ps, err := e.loadChunk(ctx, chunk, files)
	if err != nil {
		return nil, fail(err)
	}

	data := &ChunkData{Chunk: *chunk, Points: ps, owner: owner, indexOpts: e.opts.Index}
	res, err = fn(ctx, data)
	if err != nil {
		return nil, fail(err)
	}

	glog.V(1).Infof("chunk %d: %d files, %d points in %s", chunk.ID, len(files), ps.Len(), time.Since(start))
	return res, nil
}

// loadChunk gathers the points of every file inside the chunk's buffered
// box.
func (e *Engine) loadChunk(ctx context.Context, chunk *Chunk, files []FileDescriptor) (*PointSet, error) {
	box := chunk.BufferedBounds()
	var header *Header
	var pts []PointRecord

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var h *Header
		var err error
		if e.cache != nil {
			h, pts, err = e.loadCached(f.Path, box, pts)
		} else {
			h, pts, err = e.loadFiltered(ctx, f.Path, box, pts)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Path, err)
		}
		if header == nil {
			header = h.Clone()
		}
	}

	if header == nil {
		header = parser.NewHeader(0, [3]float64{0.01, 0.01, 0.01}, [3]float64{})
	}
	widenFormat(header, files)
	parser.Summarize(header, pts)
	return NewPointSet(header, pts), nil
}

// chunkFormats lists point formats from narrowest to widest.
var chunkFormats = []uint8{0, 1, 2, 3, 6, 7, 8}

// widenFormat switches h to the narrowest point format storing every
// field of every file, so that points from a file with colour or GPS time
// keep them in a chunk that starts with a plainer file. Formats 6 and up
// need a 1.4 header.
func widenFormat(h *Header, files []FileDescriptor) {
	var need FieldMask
	for _, f := range files {
		need |= parser.FormatFields(f.PointFormat)
	}
	if parser.FormatFields(h.PointFormat).Has(need) {
		return
	}
	for _, format := range chunkFormats {
		if parser.FormatFields(format).Has(need) {
			h.PointFormat = format
			h.RecordLength = uint16(parser.MinRecordLength(format))
			if format >= 6 && h.VersionMinor < 4 {
				h.VersionMinor = 4
			}
			return
		}
	}
}

// loadFiltered streams one file with the chunk box bound as a decode-time
// filter.
func (e *Engine) loadFiltered(ctx context.Context, path string, box Bounds, pts []PointRecord) (*Header, []PointRecord, error) {
	r, err := Open(path, ReadOptions{
		Select: e.opts.Select,
		Filter: e.opts.Filter.And(BoxFilter(box)),
	})
	if err != nil {
		return nil, pts, err
	}
	defer r.Close()

	n := 0
	for r.Next() {
		pts = append(pts, r.Record())
		n++
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, pts, err
			}
		}
	}
	if err := r.Err(); err != nil {
		return nil, pts, err
	}
	return r.Header(), pts, nil
}

// loadCached clips one cached file through its grid index.
func (e *Engine) loadCached(path string, box Bounds, pts []PointRecord) (*Header, []PointRecord, error) {
	key := fmt.Sprintf("%s|%s|%s", path, e.opts.Select, e.opts.Filter)
	ps, idx, err := e.cache.Get(key, func() (*PointSet, error) {
		return ReadFile(path, ReadOptions{Select: e.opts.Select, Filter: e.opts.Filter})
	})
	if err != nil {
		return nil, pts, err
	}

	hits, err := idx.Query(BoxOf(box))
	if err != nil {
		return nil, pts, err
	}
	all := ps.Points()
	for _, i := range hits {
		pts = append(pts, all[i])
	}
	return ps.Header, pts, nil
}
