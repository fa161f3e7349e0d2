package las

import (
	"github.com/beetlebugorg/lascat/internal/compress"
	"github.com/beetlebugorg/lascat/internal/parser"
)

// Core types, shared with the internal codec.
type (
	// PointRecord is one decoded point. X, Y and Z are real-world
	// coordinates; Fields lists the other members that were decoded.
	PointRecord = parser.PointRecord

	// Header is the LAS public header block and its VLR table.
	Header = parser.Header

	// VLR is a variable length record.
	VLR = parser.VLR

	// Bounds is an axis-aligned 3D box. 2D tests ignore Z.
	Bounds = parser.Bounds

	// FieldMask selects PointRecord fields.
	FieldMask = parser.FieldMask

	// Filter is a compiled filter expression such as "-keep_first -drop_z_below 2".
	Filter = parser.Filter

	// Reader streams the records of one file.
	Reader = parser.Reader

	// Writer streams records into a file.
	Writer = parser.Writer

	// ReadOptions selects fields and binds a filter at decode time.
	ReadOptions = parser.ReadOptions

	// WriteOptions configures compression and header regeneration.
	WriteOptions = parser.WriteOptions

	// Issue is one validator finding.
	Issue = parser.Issue

	// Severity grades an Issue.
	Severity = parser.Severity

	// Codec identifies a point payload codec.
	Codec = compress.ID

	// Compressor is implemented by payload codecs registered with RegisterCodec.
	Compressor = compress.Codec
)

// Typed errors
type (
	FormatError              = parser.FormatError
	CorruptStreamError       = parser.CorruptStreamError
	UnsupportedVersionError  = parser.UnsupportedVersionError
	BoundingBoxMismatchError = parser.BoundingBoxMismatchError
)

// ErrNotRestartable is returned when rewinding a filtered stream.
var ErrNotRestartable = parser.ErrNotRestartable

// Field selection bits
const (
	FieldX                = parser.FieldX
	FieldY                = parser.FieldY
	FieldZ                = parser.FieldZ
	FieldIntensity        = parser.FieldIntensity
	FieldGPSTime          = parser.FieldGPSTime
	FieldScanAngle        = parser.FieldScanAngle
	FieldNumberOfReturns  = parser.FieldNumberOfReturns
	FieldReturnNumber     = parser.FieldReturnNumber
	FieldClassification   = parser.FieldClassification
	FieldSynthetic        = parser.FieldSynthetic
	FieldKeypoint         = parser.FieldKeypoint
	FieldWithheld         = parser.FieldWithheld
	FieldOverlap          = parser.FieldOverlap
	FieldUserData         = parser.FieldUserData
	FieldPointSourceID    = parser.FieldPointSourceID
	FieldEdgeOfFlightLine = parser.FieldEdgeOfFlightLine
	FieldScanDirection    = parser.FieldScanDirection
	FieldScannerChannel   = parser.FieldScannerChannel
	FieldRed              = parser.FieldRed
	FieldGreen            = parser.FieldGreen
	FieldBlue             = parser.FieldBlue
	FieldNIR              = parser.FieldNIR

	FieldXYZ = parser.FieldXYZ
	FieldRGB = parser.FieldRGB
	FieldAll = parser.FieldAll
)

// Payload codecs. The zero Codec writes raw, uncompressed records.
const (
	CodecNone = compress.None
	CodecZstd = compress.Zstd
	CodecS2   = compress.S2
	CodecLZ4  = compress.LZ4
)

const (
	SeverityWarning = parser.SeverityWarning
	SeverityError   = parser.SeverityError
)

// Open opens a file for streaming.
//
// Example:
//
//	r, err := las.Open("tile.las", las.ReadOptions{
//	    Select: las.FieldXYZ | las.FieldClassification,
//	    Filter: las.MustParseFilter("-keep_class 2"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//	for r.Next() {
//	    p := r.Record()
//	    fmt.Println(p.X, p.Y, p.Z)
//	}
//	if err := r.Err(); err != nil {
//	    log.Fatal(err)
//	}
func Open(path string, opts ReadOptions) (*Reader, error) {
	return parser.OpenReader(path, opts)
}

// ReadAll drains r into a PointSet. With a filter bound the header counts
// and bounds describe the kept points.
func ReadAll(r *Reader) (*PointSet, error) {
	h, pts, err := parser.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return NewPointSet(h, pts), nil
}

// ReadFile reads a whole file.
func ReadFile(path string, opts ReadOptions) (*PointSet, error) {
	r, err := Open(path, opts)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ReadAll(r)
}

// Create creates path and returns a streaming writer. The header is copied;
// point counts are patched on Close.
func Create(path string, h *Header, opts WriteOptions) (*Writer, error) {
	return parser.CreateWriter(path, h, opts)
}

// WriteFile writes every point of ps to path.
func WriteFile(path string, ps *PointSet, opts WriteOptions) error {
	w, err := Create(path, ps.Header, opts)
	if err != nil {
		return err
	}
	pts := ps.Points()
	for i := range pts {
		if err := w.Write(&pts[i]); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

// NewHeader returns an empty header for a point format. Formats 6 and up
// produce a LAS 1.4 header, others 1.2.
func NewHeader(format uint8, scale, offset [3]float64) *Header {
	return parser.NewHeader(format, scale, offset)
}

// HeaderFromPoints returns a header describing pts with offsets snapped
// below the minimum coordinates.
func HeaderFromPoints(format uint8, scale [3]float64, pts []PointRecord) *Header {
	return parser.HeaderFromPoints(format, scale, pts)
}

// EmptyBounds returns an inverted box that any Extend call replaces.
func EmptyBounds() Bounds {
	return parser.EmptyBounds()
}

// FormatFields returns the fields a point data format stores.
func FormatFields(format uint8) FieldMask {
	return parser.FormatFields(format)
}

// ParseSelect compiles a field selection string such as "xyzic" or "* -RGB".
func ParseSelect(s string) (FieldMask, error) {
	return parser.ParseSelect(s)
}

// ParseFilter compiles a filter expression. An empty expression yields a
// nil filter, which keeps every point.
func ParseFilter(s string) (*Filter, error) {
	return parser.ParseFilter(s)
}

// MustParseFilter is ParseFilter that panics on error.
func MustParseFilter(s string) *Filter {
	return parser.MustParseFilter(s)
}

// BoxFilter keeps points whose X and Y lie inside b, edges included.
func BoxFilter(b Bounds) *Filter {
	return parser.BoxFilter(b)
}

// RegisterCodec makes a payload codec available for reading and writing
// under id.
func RegisterCodec(id Codec, name string, c Compressor) error {
	return compress.Register(id, name, c)
}

// ParseCodec resolves a codec name such as "zstd".
func ParseCodec(name string) (Codec, error) {
	return compress.Parse(name)
}
