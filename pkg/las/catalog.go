package las

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dhconnelly/rtreego"
	"github.com/golang/glog"

	"github.com/beetlebugorg/lascat/internal/headercache"
	"github.com/beetlebugorg/lascat/internal/parser"
)

// FileDescriptor is the header summary of one file in a catalog. No point
// payload is loaded.
type FileDescriptor struct {
	Path        string
	Size        int64
	ModTime     time.Time
	Version     string
	PointFormat uint8
	PointCount  uint64
	Compression Codec
	Scale       [3]float64
	CRS         string
	Bounds      Bounds
}

// catalogEntry adapts a descriptor to rtreego.Spatial.
type catalogEntry struct {
	id   int
	rect rtreego.Rect
}

func (e catalogEntry) Bounds() rtreego.Rect {
	return e.rect
}

// rtreego rejects zero-length sides; flat boxes (a single point, a
// transect) are padded by this much before insertion. Queries post-filter
// with the exact box.
const rectPad = 1e-9

func toRect(b Bounds) rtreego.Rect {
	pad := rectPad * (1 + max(abs(b.MinX), abs(b.MaxX), abs(b.MinY), abs(b.MaxY)))
	p := rtreego.Point{b.MinX - pad, b.MinY - pad}
	rect, _ := rtreego.NewRect(p, []float64{b.Width() + 2*pad, b.Height() + 2*pad})
	return rect
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Catalog is a lazy index over many files treated as one dataset. It holds
// header summaries and an R-tree over file bounds; payloads are read only
// when a chunk needs them.
//
// Example:
//
//	cat, err := las.Discover(ctx, "/data/survey", las.DiscoverOptions{Recursive: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d files, %d points, extent %+v\n", cat.Len(), cat.PointCount(), cat.Bounds())
type Catalog struct {
	files  []FileDescriptor
	rtree  *rtreego.Rtree
	bounds Bounds

	// Skipped holds the per-file errors of a Discover run with SkipErrors.
	Skipped []error
}

// NewCatalog indexes files. Files without points or with an empty box are
// kept in Files but never returned by Query.
func NewCatalog(files []FileDescriptor) *Catalog {
	c := &Catalog{
		files: append([]FileDescriptor(nil), files...),
		// 2D, min=25 children, max=50 children
		rtree:  rtreego.NewTree(2, 25, 50),
		bounds: parser.EmptyBounds(),
	}
	for i, f := range c.files {
		if f.PointCount == 0 || f.Bounds.IsEmpty() {
			continue
		}
		c.rtree.Insert(catalogEntry{id: i, rect: toRect(f.Bounds)})
		c.bounds = c.bounds.Union(f.Bounds)
	}
	if c.bounds.IsEmpty() {
		c.bounds = Bounds{}
	}
	return c
}

// Files returns every descriptor in discovery order.
func (c *Catalog) Files() []FileDescriptor {
	return c.files
}

// Len returns the number of files.
func (c *Catalog) Len() int {
	return len(c.files)
}

// Bounds returns the union of the file boxes.
func (c *Catalog) Bounds() Bounds {
	return c.bounds
}

// PointCount sums the declared point counts.
func (c *Catalog) PointCount() uint64 {
	var n uint64
	for _, f := range c.files {
		n += f.PointCount
	}
	return n
}

// Query returns the files whose box intersects b (touching counts), in
// catalog order.
func (c *Catalog) Query(b Bounds) []FileDescriptor {
	if c.rtree.Size() == 0 || b.IsEmpty() {
		return nil
	}

	var ids []int
	for _, s := range c.rtree.SearchIntersect(toRect(b)) {
		e := s.(catalogEntry)
		if c.files[e.id].Bounds.Intersects(b) {
			ids = append(ids, e.id)
		}
	}
	sort.Ints(ids)

	out := make([]FileDescriptor, len(ids))
	for i, id := range ids {
		out[i] = c.files[id]
	}
	return out
}

// DiscoverOptions controls how Discover finds and summarizes files.
type DiscoverOptions struct {
	// Recursive descends into subdirectories.
	Recursive bool

	// Workers is the number of concurrent header readers.
	// If 0, defaults to runtime.NumCPU().
	Workers int

	// SkipErrors keeps going when a file cannot be read. Failures are
	// logged and collected in Catalog.Skipped. When false the first
	// failure aborts discovery.
	SkipErrors bool

	// Extensions lists accepted file suffixes, compared case-insensitively.
	// Default: ".las"
	Extensions []string

	// HeaderCache is the path of a SQLite database remembering header
	// summaries by path, size and modification time. Empty disables it.
	HeaderCache string

	// Progress is an optional callback invoked after each file.
	Progress func(done, total int)
}

// DefaultDiscoverOptions returns discovery options with sensible defaults.
func DefaultDiscoverOptions() DiscoverOptions {
	return DiscoverOptions{
		Recursive:  true,
		Workers:    runtime.NumCPU(),
		SkipErrors: true,
		Extensions: []string{".las"},
	}
}

// Discover scans root, which may be a directory or a single file, and
// builds a catalog from file headers alone.
//
// Example:
//
//	cat, err := las.Discover(ctx, "/data/survey", las.DiscoverOptions{
//	    Recursive:   true,
//	    SkipErrors:  true,
//	    HeaderCache: "/var/cache/lascat/headers.db",
//	    Progress: func(done, total int) {
//	        fmt.Printf("\rIndexing: %d/%d", done, total)
//	    },
//	})
func Discover(ctx context.Context, root string, opts DiscoverOptions) (*Catalog, error) {
	paths, err := findFiles(root, opts)
	if err != nil {
		return nil, err
	}

	var cache *headercache.Cache
	if opts.HeaderCache != "" {
		cache, err = headercache.Open(opts.HeaderCache)
		if err != nil {
			return nil, fmt.Errorf("open header cache: %w", err)
		}
		defer cache.Close()
	}

	files, errs := describeParallel(ctx, paths, cache, opts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(errs) > 0 && !opts.SkipErrors {
		return nil, errs[0]
	}

	cat := NewCatalog(files)
	cat.Skipped = errs
	glog.V(1).Infof("discovered %d files under %s (%d skipped)", len(files), root, len(errs))
	return cat, nil
}

// findFiles lists candidate files in lexical order.
func findFiles(root string, opts DiscoverOptions) ([]string, error) {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultDiscoverOptions().Extensions
	}
	match := func(name string) bool {
		ext := strings.ToLower(filepath.Ext(name))
		for _, e := range exts {
			if ext == strings.ToLower(e) {
				return true
			}
		}
		return false
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if match(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	return paths, nil
}

// describeParallel reads headers with a worker pool and returns the
// descriptors in input order.
func describeParallel(ctx context.Context, paths []string, cache *headercache.Cache, opts DiscoverOptions) ([]FileDescriptor, []error) {
	if len(paths) == 0 {
		return nil, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	type describeResult struct {
		index int
		desc  FileDescriptor
		err   error
	}

	jobs := make(chan int, len(paths))
	results := make(chan describeResult, len(paths))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				if err := ctx.Err(); err != nil {
					results <- describeResult{index: index, err: err}
					continue
				}
				desc, err := describeFile(paths[index], cache)
				results <- describeResult{index: index, desc: desc, err: err}
			}
		}()
	}

	for i := range paths {
		jobs <- i
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	descs := make([]*FileDescriptor, len(paths))
	var errs []error
	done := 0
	for result := range results {
		done++
		if opts.Progress != nil {
			opts.Progress(done, len(paths))
		}

		if result.err != nil {
			if errors.Is(result.err, context.Canceled) || errors.Is(result.err, context.DeadlineExceeded) {
				continue
			}
			err := fmt.Errorf("%s: %w", paths[result.index], result.err)
			glog.Warningf("skipping file: %v", err)
			errs = append(errs, err)
			continue
		}
		d := result.desc
		descs[result.index] = &d
	}

	files := make([]FileDescriptor, 0, len(paths))
	for _, d := range descs {
		if d != nil {
			files = append(files, *d)
		}
	}
	return files, errs
}

// describeFile summarizes one header, consulting the cache first.
func describeFile(path string, cache *headercache.Cache) (FileDescriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileDescriptor{}, err
	}

	if cache != nil {
		e, ok, err := cache.Get(path, info.Size(), info.ModTime())
		if err != nil {
			glog.Warningf("header cache lookup for %s: %v", path, err)
		} else if ok {
			return descriptorFromEntry(e), nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return FileDescriptor{}, err
	}
	defer f.Close()

	h, err := parser.ReadHeader(f)
	if err != nil {
		return FileDescriptor{}, err
	}

	d := FileDescriptor{
		Path:        path,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Version:     h.Version(),
		PointFormat: h.PointFormat,
		PointCount:  h.PointCount,
		Compression: h.Compression,
		Scale:       h.Scale,
		CRS:         h.CRS(),
		Bounds:      h.Bounds,
	}

	if cache != nil {
		if err := cache.Put(entryFromDescriptor(d, h)); err != nil {
			glog.Warningf("header cache store for %s: %v", path, err)
		}
	}
	return d, nil
}

func descriptorFromEntry(e headercache.Entry) FileDescriptor {
	return FileDescriptor{
		Path:        e.Path,
		Size:        e.Size,
		ModTime:     e.ModTime,
		Version:     fmt.Sprintf("%d.%d", e.VersionMajor, e.VersionMinor),
		PointFormat: e.PointFormat,
		PointCount:  e.PointCount,
		Compression: Codec(e.Compression),
		Scale:       e.Scale,
		CRS:         e.CRS,
		Bounds:      e.Bounds,
	}
}

func entryFromDescriptor(d FileDescriptor, h *Header) headercache.Entry {
	return headercache.Entry{
		Path:         d.Path,
		Size:         d.Size,
		ModTime:      d.ModTime,
		VersionMajor: h.VersionMajor,
		VersionMinor: h.VersionMinor,
		PointFormat:  d.PointFormat,
		PointCount:   d.PointCount,
		Compression:  uint8(d.Compression),
		Bounds:       d.Bounds,
		Scale:        d.Scale,
		CRS:          d.CRS,
	}
}
