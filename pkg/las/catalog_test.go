package las

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/beetlebugorg/lascat/internal/headercache"
)

func TestDiscover(t *testing.T) {
	dir, all := writeQuadrants(t, 200, WriteOptions{Compression: CodecS2})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))

	cat, err := Discover(context.Background(), dir, DefaultDiscoverOptions())
	require.NoError(t, err)
	require.Equal(t, 4, cat.Len())
	require.Empty(t, cat.Skipped)
	require.Equal(t, uint64(len(all)), cat.PointCount())

	files := cat.Files()
	require.Equal(t, filepath.Join(dir, "qa.las"), files[0].Path)
	require.Equal(t, "1.2", files[0].Version)
	require.Equal(t, uint8(1), files[0].PointFormat)
	require.Equal(t, CodecS2, files[0].Compression)
	require.Equal(t, "EPSG:32617", files[0].CRS)

	want := NewPointSet(nil, all).Bounds()
	require.Equal(t, want, cat.Bounds())
}

func TestDiscoverSkipErrors(t *testing.T) {
	dir, _ := writeQuadrants(t, 50, WriteOptions{})
	bad := filepath.Join(dir, "broken.las")
	require.NoError(t, os.WriteFile(bad, []byte("LASF but not really"), 0o644))

	opts := DefaultDiscoverOptions()
	cat, err := Discover(context.Background(), dir, opts)
	require.NoError(t, err)
	require.Equal(t, 4, cat.Len())
	require.Len(t, cat.Skipped, 1)
	require.Contains(t, cat.Skipped[0].Error(), "broken.las")

	opts.SkipErrors = false
	_, err = Discover(context.Background(), dir, opts)
	require.ErrorContains(t, err, "broken.las")
}

func TestDiscoverRecursion(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeTestFile(t, filepath.Join(dir, "top.las"), forest(10, 1, Box{MaxX: 5, MaxY: 5}), WriteOptions{})
	writeTestFile(t, filepath.Join(sub, "deep.LAS"), forest(10, 2, Box{MaxX: 5, MaxY: 5}), WriteOptions{})

	cat, err := Discover(context.Background(), dir, DiscoverOptions{Recursive: true})
	require.NoError(t, err)
	require.Equal(t, 2, cat.Len())

	cat, err = Discover(context.Background(), dir, DiscoverOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, cat.Len())

	// a single file is a catalog of one
	cat, err = Discover(context.Background(), filepath.Join(sub, "deep.LAS"), DiscoverOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, cat.Len())
}

func TestDiscoverHeaderCache(t *testing.T) {
	dir, _ := writeQuadrants(t, 100, WriteOptions{})
	dbPath := filepath.Join(t.TempDir(), "headers.db")
	opts := DefaultDiscoverOptions()
	opts.HeaderCache = dbPath

	first, err := Discover(context.Background(), dir, opts)
	require.NoError(t, err)

	hc, err := headercache.Open(dbPath)
	require.NoError(t, err)
	n, err := hc.Len()
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.NoError(t, hc.Close())

	second, err := Discover(context.Background(), dir, opts)
	require.NoError(t, err)
	if diff := cmp.Diff(first.Files(), second.Files()); diff != "" {
		t.Fatalf("cached descriptors differ (-first +second):\n%s", diff)
	}
}

func TestDiscoverCancelled(t *testing.T) {
	dir, _ := writeQuadrants(t, 10, WriteOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Discover(ctx, dir, DefaultDiscoverOptions())
	require.ErrorIs(t, err, context.Canceled)
}

func TestCatalogQuery(t *testing.T) {
	cat := NewCatalog([]FileDescriptor{
		{Path: "a", PointCount: 1, Bounds: Bounds{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}},
		{Path: "b", PointCount: 1, Bounds: Bounds{MinX: 10, MinY: 0, MaxX: 20, MaxY: 10}},
		{Path: "c", PointCount: 1, Bounds: Bounds{MinX: 5, MinY: 5, MaxX: 5, MaxY: 5}}, // a single point
		{Path: "empty"},
	})

	paths := func(fs []FileDescriptor) []string {
		var out []string
		for _, f := range fs {
			out = append(out, f.Path)
		}
		return out
	}

	require.Equal(t, []string{"a", "b", "c"}, paths(cat.Query(Bounds{MinX: -5, MinY: -5, MaxX: 50, MaxY: 50})))
	require.Equal(t, []string{"a", "b"}, paths(cat.Query(Bounds{MinX: 10, MinY: 2, MaxX: 10, MaxY: 3})), "touching counts")
	require.Equal(t, []string{"a", "c"}, paths(cat.Query(Bounds{MinX: 5, MinY: 5, MaxX: 6, MaxY: 6})))
	require.Equal(t, []string{"b"}, paths(cat.Query(Bounds{MinX: 10.5, MinY: 0, MaxX: 11, MaxY: 1})))
	require.Empty(t, cat.Query(Bounds{MinX: 20.0001, MinY: 0, MaxX: 30, MaxY: 10}))
	require.Equal(t, 4, cat.Len())
	require.Equal(t, Bounds{MaxX: 20, MaxY: 10}, cat.Bounds())
}
