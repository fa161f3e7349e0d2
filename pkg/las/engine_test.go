package las

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func quadrantRun(t *testing.T, n int, opts EngineOptions, fn ProcessFunc) (*Result, *Summary, []PointRecord) {
	t.Helper()
	dir, all := writeQuadrants(t, n, WriteOptions{Compression: CodecZstd})
	cat, err := Discover(context.Background(), dir, DefaultDiscoverOptions())
	require.NoError(t, err)
	require.Equal(t, 4, cat.Len())

	res, summary, err := NewEngine(opts).Run(context.Background(), cat, fn)
	require.NoError(t, err)
	return res, summary, all
}

func TestTreeTopsIndependentOfPartition(t *testing.T) {
	const window, minHeight = 3.0, 2.0
	dir, all := writeQuadrants(t, 1500, WriteOptions{})
	cat, err := Discover(context.Background(), dir, DefaultDiscoverOptions())
	require.NoError(t, err)

	// reference: one pass over every point
	ps := NewPointSet(testHeader(all), all)
	whole := Chunk{Core: Bounds{MaxX: 100, MaxY: 100}, Buffer: window}
	want, err := TreeTops(window, minHeight)(context.Background(), &ChunkData{Chunk: whole, Points: ps})
	require.NoError(t, err)
	require.NotEmpty(t, want.Features)
	sortFeatures(want.Features)

	for name, opts := range map[string]EngineOptions{
		"single region": {Partition: ByRegions{Regions: []Region{Box{MaxX: 100, MaxY: 100}}, Buffer: 2}},
		"tiles":         {Partition: ByTile{Size: 17, Buffer: 2}, Workers: 3},
		"offset tiles":  {Partition: ByTile{Size: 9, Origin: [2]float64{4.5, -2}, Buffer: 2}},
		"files":         {Partition: ByFile{Buffer: 2}},
		"cached tiles":  {Partition: ByTile{Size: 17, Buffer: 2}, CacheSize: 64 << 20},
	} {
		t.Run(name, func(t *testing.T) {
			res, summary, err := NewEngine(opts).Run(context.Background(), cat, TreeTops(window, minHeight))
			require.NoError(t, err)
			require.NoError(t, summary.Err())
			require.Equal(t, summary.Total, summary.Succeeded)

			sortFeatures(res.Features)
			if diff := cmp.Diff(want.Features, res.Features); diff != "" {
				t.Fatalf("tree tops differ (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTreeTopsTies(t *testing.T) {
	f := FormatFields(1)
	pts := []PointRecord{
		{X: 1, Y: 1, Z: 10, Fields: f},
		{X: 1.5, Y: 1, Z: 10, Fields: f}, // wins on X
		{X: 1.5, Y: 1, Z: 10, Fields: f}, // exact duplicate, defers
		{X: 5, Y: 5, Z: 1, Fields: f},    // below minHeight
	}
	ps := NewPointSet(testHeader(pts), pts)
	chunk := Chunk{Core: Bounds{MaxX: 10, MaxY: 10}, Buffer: 2}

	res, err := TreeTops(2, 2)(context.Background(), &ChunkData{Chunk: chunk, Points: ps})
	require.NoError(t, err)
	require.Len(t, res.Features, 1)
	require.Equal(t, 1.5, res.Features[0].X)
	require.Equal(t, 10.0, res.Features[0].Properties["height"])
}

func TestTreeTopsRejectsSmallBuffer(t *testing.T) {
	res, summary, _ := quadrantRun(t, 50, EngineOptions{Partition: ByFile{Buffer: 1}}, TreeTops(3, 2))
	require.Empty(t, res.Features)
	require.Equal(t, 4, summary.Failed)
	require.ErrorContains(t, summary.Err(), "smaller than the search radius")

	_, err := TreeTops(0, 2)(context.Background(), &ChunkData{Points: NewPointSet(nil, nil)})
	require.Error(t, err)
}

func TestIdentityMergeReturnsEveryPointOnce(t *testing.T) {
	identity := func(_ context.Context, d *ChunkData) (*Result, error) {
		return &Result{Points: d.Points.Points(), Rows: []Row{{"chunk": d.Chunk.ID}}}, nil
	}

	calls := 0
	var lastTotal int
	opts := EngineOptions{
		Partition: ByTile{Size: 17, Buffer: 3},
		Workers:   4,
		Progress: func(done, total int) {
			calls++
			lastTotal = total
		},
	}
	res, summary, all := quadrantRun(t, 800, opts, identity)

	sortPoints(all)
	sortPoints(res.Points)
	if diff := cmp.Diff(all, res.Points); diff != "" {
		t.Fatalf("merged points differ (-want +got):\n%s", diff)
	}
	require.Len(t, res.Rows, summary.Total)
	require.Equal(t, summary.Total, calls)
	require.Equal(t, summary.Total, lastTotal)
	require.Equal(t, 36, summary.Total)
}

func TestPartialFailure(t *testing.T) {
	boom := errors.New("boom")
	fn := func(_ context.Context, d *ChunkData) (*Result, error) {
		if d.Chunk.ID == 2 {
			return nil, boom
		}
		return &Result{Points: d.Points.Points()}, nil
	}

	res, summary, all := quadrantRun(t, 200, EngineOptions{Partition: ByFile{}}, fn)
	require.Equal(t, 4, summary.Total)
	require.Equal(t, 3, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.ErrorIs(t, summary.Err(), boom)

	var cpe *ChunkProcessingError
	require.True(t, errors.As(summary.Err(), &cpe))
	require.Equal(t, 2, cpe.ChunkID)
	require.False(t, cpe.Panic)
	require.Equal(t, "qc.las", filepath.Base(cpe.Files[0]))

	require.NotEmpty(t, res.Points)
	require.Less(t, len(res.Points), len(all))
	for _, p := range res.Points {
		require.False(t, p.X < 50 && p.Y > 50, "point (%g, %g) belongs to the failed chunk", p.X, p.Y)
	}
}

func TestPanicIsContained(t *testing.T) {
	fn := func(_ context.Context, d *ChunkData) (*Result, error) {
		if d.Chunk.ID == 1 {
			var m map[string]int
			m["x"]++
		}
		return &Result{}, nil
	}

	_, summary, _ := quadrantRun(t, 20, EngineOptions{Partition: ByFile{}, Workers: 2}, fn)
	require.Equal(t, 1, summary.Failed)
	require.True(t, summary.Failures[0].Panic)
	require.Equal(t, 1, summary.Failures[0].ChunkID)
	require.Contains(t, summary.Failures[0].Error(), "panicked")
}

func TestCancellation(t *testing.T) {
	dir, _ := writeQuadrants(t, 100, WriteOptions{})
	cat, err := Discover(context.Background(), dir, DefaultDiscoverOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	fn := func(_ context.Context, d *ChunkData) (*Result, error) {
		calls++
		if calls == 3 {
			cancel()
		}
		return &Result{Points: d.Points.Points()}, nil
	}

	res, summary, err := NewEngine(EngineOptions{Partition: ByTile{Size: 10}, Workers: 1}).Run(ctx, cat, fn)
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, res)
	require.NotNil(t, summary)
	require.Equal(t, 3, calls)
	require.Less(t, calls, summary.Total)

	// the chunk aborted while loading is not a failure
	require.Equal(t, calls, summary.Succeeded)
	require.Zero(t, summary.Failed)
	require.NoError(t, summary.Err())
}

func TestCancellationCountsFailures(t *testing.T) {
	dir, _ := writeQuadrants(t, 50, WriteOptions{})
	cat, err := Discover(context.Background(), dir, DefaultDiscoverOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("boom")
	fn := func(_ context.Context, d *ChunkData) (*Result, error) {
		switch d.Chunk.ID {
		case 0:
			return &Result{}, nil
		case 1:
			return nil, boom
		}
		cancel()
		return &Result{}, nil
	}

	_, summary, err := NewEngine(EngineOptions{Partition: ByFile{}, Workers: 1}).Run(ctx, cat, fn)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.ErrorIs(t, summary.Err(), boom)
}

func TestRunPartitionError(t *testing.T) {
	cat := NewCatalog(nil)
	_, _, err := NewEngine(EngineOptions{Partition: ByTile{}}).Run(context.Background(), cat,
		func(context.Context, *ChunkData) (*Result, error) { return &Result{}, nil })
	require.ErrorContains(t, err, "partition catalog")
}

func TestRetile(t *testing.T) {
	out := t.TempDir()
	tiles := ByTile{Size: 30, Buffer: 5}
	res, summary, all := quadrantRun(t, 300, EngineOptions{Partition: tiles}, Retile(out, WriteOptions{Compression: CodecS2}))
	require.Zero(t, summary.Failed)

	cat := quadrantCatalog()
	chunks, err := tiles.Partition(cat)
	require.NoError(t, err)

	total := 0
	var got []PointRecord
	for _, row := range res.Rows {
		path := row["path"].(string)
		require.Equal(t, out, filepath.Dir(path))

		ps, err := ReadFile(path, ReadOptions{})
		require.NoError(t, err)
		require.Equal(t, row["points"], ps.Len())
		require.Equal(t, CodecS2, ps.Header.Compression)
		require.True(t, ps.Validate().OK(), ps.Validate().String())

		chunk := chunks[row["chunk"].(int)]
		for _, p := range ps.Points() {
			require.True(t, chunk.Owns(p.X, p.Y), "%v does not own (%g, %g)", &chunk, p.X, p.Y)
		}
		total += ps.Len()
		got = append(got, ps.Points()...)
	}
	require.Equal(t, len(all), total)

	sortPoints(all)
	sortPoints(got)
	require.Empty(t, cmp.Diff(all, got))
}

func TestRetileMixedFormats(t *testing.T) {
	dir := t.TempDir()
	plain := forest(200, 1, Box{MaxX: 10, MaxY: 10})
	writeTestFile(t, filepath.Join(dir, "a.las"), plain, WriteOptions{})

	colour := forest(200, 2, Box{MinX: 10, MaxX: 20, MaxY: 10})
	for i := range colour {
		colour[i].Fields = FormatFields(3)
		colour[i].R, colour[i].G, colour[i].B = uint16(i), uint16(2*i), uint16(3*i)
	}
	h := NewHeader(3, testScale, [3]float64{})
	NewPointSet(h, colour).Summarize()
	h.SetEPSG(32617)
	require.NoError(t, WriteFile(filepath.Join(dir, "b.las"), NewPointSet(h, colour), WriteOptions{}))

	cat, err := Discover(context.Background(), dir, DefaultDiscoverOptions())
	require.NoError(t, err)

	out := t.TempDir()
	whole := ByRegions{Regions: []Region{Box{MaxX: 20, MaxY: 10}}}
	res, summary, err := NewEngine(EngineOptions{Partition: whole}).Run(context.Background(), cat, Retile(out, WriteOptions{}))
	require.NoError(t, err)
	require.NoError(t, summary.Err())
	require.Len(t, res.Rows, 1)

	ps, err := ReadFile(res.Rows[0]["path"].(string), ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, uint8(3), ps.Header.PointFormat)
	require.Equal(t, 400, ps.Len())

	byTime := make(map[float64]PointRecord, ps.Len())
	for _, p := range ps.Points() {
		byTime[p.GPSTime] = p
	}
	for _, want := range colour {
		got, ok := byTime[want.GPSTime]
		require.True(t, ok)
		require.Equal(t, [3]uint16{want.R, want.G, want.B}, [3]uint16{got.R, got.G, got.B})
	}
}

func TestWidenFormat(t *testing.T) {
	tests := []struct {
		first   uint8
		others  []uint8
		format  uint8
		version uint8
	}{
		{1, []uint8{1}, 1, 2},
		{1, []uint8{3}, 3, 2},
		{0, []uint8{2, 1}, 3, 2},
		{3, []uint8{1}, 3, 2},
		{1, []uint8{6}, 6, 4},
		{3, []uint8{6}, 7, 4},
		{0, []uint8{8}, 8, 4},
	}
	for _, tt := range tests {
		h := NewHeader(tt.first, testScale, [3]float64{})
		files := []FileDescriptor{{PointFormat: tt.first}}
		for _, f := range tt.others {
			files = append(files, FileDescriptor{PointFormat: f})
		}
		widenFormat(h, files)
		require.Equal(t, tt.format, h.PointFormat, "%+v", tt)
		require.Equal(t, tt.version, h.VersionMinor, "%+v", tt)
	}
}
