package headercache

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/beetlebugorg/lascat/internal/parser"
)

func testEntry(path string) Entry {
	return Entry{
		Path:         path,
		Size:         4096,
		ModTime:      time.Unix(1700000000, 123456789),
		VersionMajor: 1,
		VersionMinor: 4,
		PointFormat:  6,
		PointCount:   1 << 33,
		Compression:  2,
		Bounds:       parser.Bounds{MinX: 1, MinY: 2, MinZ: 3, MaxX: 4, MaxY: 5, MaxZ: 6},
		Scale:        [3]float64{0.01, 0.01, 0.001},
		CRS:          "EPSG:32617",
	}
}

func TestPutGet(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "headers.db"))
	require.NoError(t, err)
	defer c.Close()

	want := testEntry("/data/a.las")
	require.NoError(t, c.Put(want))

	got, ok, err := c.Get(want.Path, want.Size, want.ModTime)
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s", diff)
	}
}

func TestStaleEntriesMiss(t *testing.T) {
	c, err := Open(":memory:")
	require.NoError(t, err)
	defer c.Close()

	e := testEntry("/data/a.las")
	require.NoError(t, c.Put(e))

	_, ok, err := c.Get(e.Path, e.Size+1, e.ModTime)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = c.Get(e.Path, e.Size, e.ModTime.Add(time.Second))
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = c.Get("/data/b.las", e.Size, e.ModTime)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReplaceAndRemove(t *testing.T) {
	c, err := Open(":memory:")
	require.NoError(t, err)
	defer c.Close()

	e := testEntry("/data/a.las")
	require.NoError(t, c.Put(e))
	e.Size = 8192
	e.PointCount = 10
	require.NoError(t, c.Put(e))

	n, err := c.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, ok, err := c.Get(e.Path, 8192, e.ModTime)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), got.PointCount)

	require.NoError(t, c.Remove(e.Path))
	n, err = c.Len()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "headers.db")
	c, err := Open(path)
	require.NoError(t, err)
	e := testEntry("/data/a.las")
	require.NoError(t, c.Put(e))
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()
	_, ok, err := c.Get(e.Path, e.Size, e.ModTime)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestConcurrentPut(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "headers.db"))
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := testEntry(filepath.Join("/data", string(rune('a'+i))+".las"))
			if err := c.Put(e); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	n, err := c.Len()
	require.NoError(t, err)
	require.Equal(t, 16, n)
}
