package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/beetlebugorg/lascat/pkg/las"
)

func writeGrid(t *testing.T, path string, x0, y0 float64) {
	t.Helper()
	f := las.FormatFields(1)
	var pts []las.PointRecord
	for i := 0; i < 20; i++ {
		for j := 0; j < 20; j++ {
			pts = append(pts, las.PointRecord{
				X: x0 + float64(i), Y: y0 + float64(j), Z: float64((i*7+j*3)%11) * 0.5,
				ReturnNumber: 1, NumberOfReturns: 1, GPSTime: float64(i*20 + j), Fields: f,
			})
		}
	}
	h := las.NewHeader(1, [3]float64{0.01, 0.01, 0.01}, [3]float64{})
	ps := las.NewPointSet(h, pts)
	ps.Summarize()
	h.SetEPSG(32617)
	require.NoError(t, las.WriteFile(path, ps, las.WriteOptions{}))
}

func testConfig() config {
	return config{Workers: 2}
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), testConfig(), args, &out)
	return out.String(), err
}

func TestInfo(t *testing.T) {
	dir := t.TempDir()
	writeGrid(t, filepath.Join(dir, "a.las"), 0, 0)
	writeGrid(t, filepath.Join(dir, "b.las"), 20, 0)

	out, err := runCmd(t, "info", dir)
	require.NoError(t, err)
	require.Contains(t, out, "points:      400")
	require.Contains(t, out, "compression: raw")
	require.Contains(t, out, "EPSG:32617")
	require.Contains(t, out, "catalog: 2 files, 800 points")
}

func TestCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.las")
	writeGrid(t, path, 0, 0)

	out, err := runCmd(t, "check", path)
	require.NoError(t, err)
	require.Contains(t, out, "no issues")

	_, err = runCmd(t, "check", filepath.Join(t.TempDir(), "missing.las"))
	require.Error(t, err)
}

func TestQuery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.las")
	writeGrid(t, path, 0, 0)
	clipped := filepath.Join(dir, "clip.las")

	out, err := runCmd(t, "query", "-box", "0,0,4,9", "-compress", "zstd", "-o", clipped, path)
	require.NoError(t, err)
	require.Equal(t, "50 points\n", out)

	ps, err := las.ReadFile(clipped, las.ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, 50, ps.Len())
	require.Equal(t, las.CodecZstd, ps.Header.Compression)
	require.Equal(t, 4.0, ps.Header.Bounds.MaxX)

	out, err = runCmd(t, "query", "-circle", "10,10,1", path)
	require.NoError(t, err)
	require.Equal(t, "5 points\n", out)

	out, err = runCmd(t, "query", "-filter", "-drop_z_below 5", path)
	require.NoError(t, err)
	require.NotEqual(t, "400 points\n", out)

	_, err = runCmd(t, "query", "-box", "0,0,4", path)
	require.ErrorContains(t, err, "4 comma separated numbers")
	_, err = runCmd(t, "query", "-box", "0,0,4,4", "-circle", "1,1,1", path)
	require.Error(t, err)
}

func TestRetileAndTreeTops(t *testing.T) {
	dir := t.TempDir()
	writeGrid(t, filepath.Join(dir, "a.las"), 0, 0)
	writeGrid(t, filepath.Join(dir, "b.las"), 20, 0)
	tiles := filepath.Join(t.TempDir(), "tiles")

	out, err := runCmd(t, "retile", "-size", "10", "-o", tiles, dir)
	require.NoError(t, err)
	require.Contains(t, out, "0 failed")

	entries, err := os.ReadDir(tiles)
	require.NoError(t, err)
	require.Len(t, entries, 8)

	out, err = runCmd(t, "treetops", "-window", "3", "-tile", "15", dir)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Equal(t, "x,y,z", lines[0])
	require.Greater(t, len(lines), 2)
}

func TestUnknownCommand(t *testing.T) {
	_, err := runCmd(t)
	require.Error(t, err)
	_, err = runCmd(t, "frobnicate")
	require.ErrorContains(t, err, "unrecognized command")
}

func TestLoadConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LASCAT_WORKERS", "3")
	t.Setenv("LASCAT_HEADER_CACHE", "/tmp/headers.db")
	t.Setenv("LASCAT_CACHE_BYTES", "1048576")

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, config{Workers: 3, HeaderCache: "/tmp/headers.db", CacheBytes: 1 << 20}, cfg)

	t.Setenv("LASCAT_WORKERS", "zero")
	_, err = loadConfig()
	require.ErrorContains(t, err, "LASCAT_WORKERS")
}

func TestLoadConfigDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LASCAT_CACHE_BYTES=4096\n"), 0o644))
	t.Setenv("LASCAT_WORKERS", "")
	t.Setenv("LASCAT_CACHE_BYTES", "")
	os.Unsetenv("LASCAT_CACHE_BYTES")

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, int64(4096), cfg.CacheBytes)
}
