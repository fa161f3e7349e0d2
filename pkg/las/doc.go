// Package las reads, writes, validates and spatially processes airborne
// laser scanning point clouds stored in LAS files.
//
// # Basic Usage
//
//	ps, err := las.ReadFile("tile.las", las.ReadOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d points, format %d, CRS %s\n",
//	    ps.Len(), ps.Header.PointFormat, ps.Header.CRS())
//
// # Reading Less
//
// Field selection decodes only the requested byte ranges of each record,
// and a filter drops points before they are materialized:
//
//	sel, _ := las.ParseSelect("xyzc")
//	ground, err := las.ReadFile("tile.las", las.ReadOptions{
//	    Select: sel,
//	    Filter: las.MustParseFilter("-keep_class 2 -drop_withheld"),
//	})
//
// A filtered Reader is a single-pass stream; Rewind returns
// ErrNotRestartable.
//
// # Writing
//
// Writers stream records. The header bounding box is enforced per point
// unless RegenerateHeader is set; point counts are always patched on Close.
// Point payloads may be compressed with a registered codec:
//
//	h := las.HeaderFromPoints(1, [3]float64{0.01, 0.01, 0.01}, pts)
//	w, err := las.Create("out.las", h, las.WriteOptions{Compression: las.CodecZstd})
//	for i := range pts {
//	    if err := w.Write(&pts[i]); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//	err = w.Close()
//
// # Spatial Queries
//
// BuildIndex puts a PointSet into a uniform grid. Queries accept a Box,
// Circle or Polygon and return exact, ascending point indices:
//
//	idx := las.BuildIndex(ps, las.DefaultIndexOptions())
//	near, err := idx.Query(las.Circle{X: 500100, Y: 4000100, R: 10})
//
// Mutating the PointSet afterwards makes the index stale; queries then
// fail with ErrStaleIndex.
//
// # Validation
//
// Validate reports every duplicated point, inconsistent return number,
// missing first return, missing CRS, degenerate or violated bounding box
// and header count mismatch as data:
//
//	report := las.Validate(ps)
//	if !report.OK() {
//	    fmt.Println(report)
//	}
//
// # Catalog Processing
//
// A Catalog treats a directory of files as one dataset. The Engine splits
// it into buffered chunks, runs a ProcessFunc on each in parallel and
// merges the outputs, clipping spatial results to each chunk's core so
// nothing is duplicated across chunk edges:
//
//	cat, err := las.Discover(ctx, "/data/survey", las.DefaultDiscoverOptions())
//	eng := las.NewEngine(las.EngineOptions{
//	    Workers:   8,
//	    Partition: las.ByTile{Size: 500, Buffer: 10},
//	})
//	res, summary, err := eng.Run(ctx, cat, las.TreeTops(6, 2))
//
// A failing chunk does not stop the run. It is recorded in the Summary,
// and the merged result holds every other chunk.
package las
