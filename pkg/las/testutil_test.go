package las

import (
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

var testScale = [3]float64{0.01, 0.01, 0.01}

// forest scatters n points over b on the 0.01 grid with canopy-like
// heights. Coordinates survive a write/read round trip exactly.
func forest(n int, seed int64, b Box) []PointRecord {
	rng := rand.New(rand.NewSource(seed))
	cols := int64((b.MaxX - b.MinX) * 100)
	rows := int64((b.MaxY - b.MinY) * 100)
	fields := FormatFields(1)

	pts := make([]PointRecord, n)
	for i := range pts {
		pts[i] = PointRecord{
			X:               float64(int64(b.MinX*100)+rng.Int63n(cols)) * 0.01,
			Y:               float64(int64(b.MinY*100)+rng.Int63n(rows)) * 0.01,
			Z:               float64(rng.Int63n(3000)) * 0.01,
			Intensity:       uint16(rng.Intn(1000)),
			ReturnNumber:    1,
			NumberOfReturns: 1,
			Classification:  uint8(1 + rng.Intn(5)),
			GPSTime:         float64(seed*1_000_000 + int64(i)),
			PointSourceID:   uint16(seed),
			Fields:          fields,
		}
	}
	return pts
}

func testHeader(pts []PointRecord) *Header {
	h := NewHeader(1, testScale, [3]float64{})
	NewPointSet(h, pts).Summarize()
	h.SetEPSG(32617)
	return h
}

func writeTestFile(t testing.TB, path string, pts []PointRecord, opts WriteOptions) {
	t.Helper()
	require.NoError(t, WriteFile(path, NewPointSet(testHeader(pts), pts), opts))
}

// quadrantBoxes splits [0,100]x[0,100] into four 50m files.
var quadrantBoxes = []Box{
	{MinX: 0, MinY: 0, MaxX: 50, MaxY: 50},
	{MinX: 50, MinY: 0, MaxX: 100, MaxY: 50},
	{MinX: 0, MinY: 50, MaxX: 50, MaxY: 100},
	{MinX: 50, MinY: 50, MaxX: 100, MaxY: 100},
}

// writeQuadrants writes four files of n points each and returns the
// directory and every point written.
func writeQuadrants(t testing.TB, n int, opts WriteOptions) (string, []PointRecord) {
	t.Helper()
	dir := t.TempDir()
	var all []PointRecord
	for i, b := range quadrantBoxes {
		pts := forest(n, int64(i+1), b)
		writeTestFile(t, filepath.Join(dir, "q"+string(rune('a'+i))+".las"), pts, opts)
		all = append(all, pts...)
	}
	return dir, all
}

func sortPoints(pts []PointRecord) {
	sort.Slice(pts, func(i, j int) bool {
		a, b := &pts[i], &pts[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.GPSTime < b.GPSTime
	})
}

func sortFeatures(fs []Feature) {
	sort.Slice(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
}

// bruteForce returns the ascending indices of points inside r.
func bruteForce(ps *PointSet, r Region) []int {
	var out []int
	for i, p := range ps.Points() {
		if r.Contains(p.X, p.Y) {
			out = append(out, i)
		}
	}
	return out
}
