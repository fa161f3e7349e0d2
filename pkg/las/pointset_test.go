package las

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestReadWriteFile(t *testing.T) {
	pts := forest(1000, 5, Box{MinX: 100, MinY: 200, MaxX: 150, MaxY: 260})
	for _, codec := range []Codec{0, CodecZstd, CodecS2, CodecLZ4} {
		path := filepath.Join(t.TempDir(), "rt.las")
		writeTestFile(t, path, pts, WriteOptions{Compression: codec})

		ps, err := ReadFile(path, ReadOptions{})
		require.NoError(t, err)
		require.Equal(t, uint64(len(pts)), ps.Header.PointCount)
		require.Equal(t, "EPSG:32617", ps.Header.CRS())
		if diff := cmp.Diff(pts, ps.Points()); diff != "" {
			t.Fatalf("codec %s mismatch (-want +got):\n%s", codec, diff)
		}
	}
}

func TestReadFileFiltered(t *testing.T) {
	pts := forest(2000, 6, Box{MaxX: 50, MaxY: 50})
	path := filepath.Join(t.TempDir(), "f.las")
	writeTestFile(t, path, pts, WriteOptions{})

	sel, err := ParseSelect("xyzc")
	require.NoError(t, err)
	f := MustParseFilter("-keep_class 2 -drop_z_below 10")
	ps, err := ReadFile(path, ReadOptions{Select: sel, Filter: f})
	require.NoError(t, err)

	var want []PointRecord
	for i := range pts {
		if f.Match(&pts[i]) {
			want = append(want, pts[i].Mask(sel))
		}
	}
	require.Equal(t, want, ps.Points())
	require.Equal(t, uint64(len(want)), ps.Header.PointCount)
}

func TestPointSetClip(t *testing.T) {
	pts := forest(3000, 2, Box{MaxX: 100, MaxY: 100})
	ps := NewPointSet(testHeader(pts), pts)
	circle := Circle{X: 40, Y: 60, R: 12.5}

	clipped, err := ps.Clip(circle)
	require.NoError(t, err)

	var want []PointRecord
	for _, p := range pts {
		if circle.Contains(p.X, p.Y) {
			want = append(want, p)
		}
	}
	require.Equal(t, want, clipped.Points())
	require.Equal(t, uint64(len(want)), clipped.Header.PointCount)
	require.True(t, circle.Bounds().ContainsBounds(clipped.Header.Bounds))

	// the source header is untouched
	require.Equal(t, uint64(3000), ps.Header.PointCount)
}

func TestPointSetMutationsBumpVersion(t *testing.T) {
	ps := NewPointSet(nil, []PointRecord{{X: 1}, {X: 2}, {X: 3}})
	v := ps.Version()

	ps.Set(0, PointRecord{X: 10})
	require.Greater(t, ps.Version(), v)
	v = ps.Version()

	ps.Retain(func(p *PointRecord) bool { return p.X > 2 })
	require.Greater(t, ps.Version(), v)
	require.Equal(t, []PointRecord{{X: 10}, {X: 3}}, ps.Points())

	ps.Summarize() // nil header is a no-op
	require.Equal(t, Bounds{MinX: 3, MaxX: 10}, ps.Bounds())
}

func TestSubset(t *testing.T) {
	pts := forest(10, 1, Box{MaxX: 10, MaxY: 10})
	ps := NewPointSet(testHeader(pts), pts)
	sub := ps.Subset([]int{2, 5})
	require.Equal(t, []PointRecord{pts[2], pts[5]}, sub.Points())
	require.Equal(t, uint64(2), sub.Header.PointCount)
	require.NotSame(t, ps.Header, sub.Header)
}
