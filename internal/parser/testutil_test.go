package parser

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	testScale  = [3]float64{0.01, 0.01, 0.01}
	testOffset = [3]float64{500000, 4000000, 0}
)

// samplePoints generates n points with every field of format populated.
// Coordinates are exactly representable with testScale and testOffset.
func samplePoints(n int, format uint8) []PointRecord {
	rng := rand.New(rand.NewSource(int64(n) + int64(format)))
	fields := FormatFields(format)
	pts := make([]PointRecord, n)
	for i := range pts {
		returns := uint8(rng.Intn(3) + 1)
		p := PointRecord{
			X:               Dequantize(int32(rng.Intn(100000)), testScale[0], testOffset[0]),
			Y:               Dequantize(int32(rng.Intn(100000)), testScale[1], testOffset[1]),
			Z:               Dequantize(int32(rng.Intn(5000)), testScale[2], testOffset[2]),
			Intensity:       uint16(rng.Intn(4096)),
			NumberOfReturns: returns,
			ReturnNumber:    uint8(rng.Intn(int(returns)) + 1),
			Classification:  uint8(rng.Intn(10)),
			UserData:        uint8(rng.Intn(256)),
			PointSourceID:   uint16(rng.Intn(8)),
			Synthetic:       rng.Intn(10) == 0,
			Keypoint:        rng.Intn(10) == 0,
			Withheld:        rng.Intn(10) == 0,
			ScanDirection:   rng.Intn(2) == 0,
			Fields:          fields,
		}
		p.EdgeOfFlightLine = rng.Intn(20) == 0
		if format < 6 {
			p.ScanAngle = float32(rng.Intn(61) - 30)
		} else {
			p.ScanAngle = float32(float64(int16(rng.Intn(10000)-5000)) * scanAngleUnit)
			p.Overlap = rng.Intn(10) == 0
			p.ScannerChannel = uint8(rng.Intn(4))
		}
		if fields.Has(FieldGPSTime) {
			p.GPSTime = float64(i/3) + 0.25
		}
		if fields.Has(FieldRGB) {
			p.R, p.G, p.B = uint16(rng.Intn(65536)), uint16(rng.Intn(65536)), uint16(rng.Intn(65536))
		}
		if fields.Has(FieldNIR) {
			p.NIR = uint16(rng.Intn(65536))
		}
		pts[i] = p
	}
	return pts
}

// sampleHeader describes pts with the test quantization and a CRS.
func sampleHeader(format uint8, pts []PointRecord) *Header {
	h := NewHeader(format, testScale, testOffset)
	Summarize(h, pts)
	h.SetEPSG(32617)
	return h
}

// writeSample writes pts into a temp file and returns its path.
func writeSample(t testing.TB, pts []PointRecord, format uint8, opts WriteOptions) string {
	t.Helper()
	return writeWithHeader(t, sampleHeader(format, pts), pts, opts)
}

func writeWithHeader(t testing.TB, h *Header, pts []PointRecord, opts WriteOptions) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "points.las")
	w, err := CreateWriter(path, h, opts)
	require.NoError(t, err)
	for i := range pts {
		require.NoError(t, w.Write(&pts[i]))
	}
	require.NoError(t, w.Close())
	return path
}

func readSample(t testing.TB, path string, opts ReadOptions) (*Header, []PointRecord) {
	t.Helper()
	r, err := OpenReader(path, opts)
	require.NoError(t, err)
	defer r.Close()
	h, pts, err := ReadAll(r)
	require.NoError(t, err)
	return h, pts
}

func fileSize(t testing.TB, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}
