package parser

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// PointRecord is one decoded point. Coordinates are real-world values;
// Fields lists which of the remaining members were decoded.
type PointRecord struct {
	X, Y, Z float64

	Intensity       uint16
	ReturnNumber    uint8
	NumberOfReturns uint8
	Classification  uint8
	ScannerChannel  uint8
	UserData        uint8
	ScanAngle       float32 // degrees
	GPSTime         float64
	PointSourceID   uint16

	Synthetic        bool
	Keypoint         bool
	Withheld         bool
	Overlap          bool
	ScanDirection    bool
	EdgeOfFlightLine bool

	R, G, B, NIR uint16

	Fields FieldMask
}

// Mask returns a copy with every field outside m reset to its zero value.
// X, Y and Z are kept.
func (p PointRecord) Mask(m FieldMask) PointRecord {
	m |= FieldXYZ
	out := PointRecord{X: p.X, Y: p.Y, Z: p.Z, Fields: p.Fields & m}
	f := out.Fields
	if f.Has(FieldIntensity) {
		out.Intensity = p.Intensity
	}
	if f.Has(FieldReturnNumber) {
		out.ReturnNumber = p.ReturnNumber
	}
	if f.Has(FieldNumberOfReturns) {
		out.NumberOfReturns = p.NumberOfReturns
	}
	if f.Has(FieldClassification) {
		out.Classification = p.Classification
	}
	if f.Has(FieldScannerChannel) {
		out.ScannerChannel = p.ScannerChannel
	}
	if f.Has(FieldUserData) {
		out.UserData = p.UserData
	}
	if f.Has(FieldScanAngle) {
		out.ScanAngle = p.ScanAngle
	}
	if f.Has(FieldGPSTime) {
		out.GPSTime = p.GPSTime
	}
	if f.Has(FieldPointSourceID) {
		out.PointSourceID = p.PointSourceID
	}
	out.Synthetic = f.Has(FieldSynthetic) && p.Synthetic
	out.Keypoint = f.Has(FieldKeypoint) && p.Keypoint
	out.Withheld = f.Has(FieldWithheld) && p.Withheld
	out.Overlap = f.Has(FieldOverlap) && p.Overlap
	out.ScanDirection = f.Has(FieldScanDirection) && p.ScanDirection
	out.EdgeOfFlightLine = f.Has(FieldEdgeOfFlightLine) && p.EdgeOfFlightLine
	if f.Has(FieldRed) {
		out.R = p.R
	}
	if f.Has(FieldGreen) {
		out.G = p.G
	}
	if f.Has(FieldBlue) {
		out.B = p.B
	}
	if f.Has(FieldNIR) {
		out.NIR = p.NIR
	}
	return out
}

// minimum record lengths per point data format
// LAS 1.4 R15 Tables 7-17
var minRecordLength = map[uint8]int{
	0: 20, 1: 28, 2: 26, 3: 34,
	6: 30, 7: 36, 8: 38,
}

// SupportedFormat reports whether the point data format can be decoded.
// Waveform formats 4, 5, 9 and 10 are not supported.
func SupportedFormat(format uint8) bool {
	_, ok := minRecordLength[format]
	return ok
}

// MinRecordLength returns the byte size of a format without extra bytes,
// or 0 for an unsupported format.
func MinRecordLength(format uint8) int {
	return minRecordLength[format]
}

// scan angle unit of the 1.4 formats, degrees per count
const scanAngleUnit = 0.006

// tieEpsilon is the distance from a .5 tie below which quantization is
// decided on decimal arithmetic. It widens with the magnitude of the inputs
// since large coordinates carry more float error.
const (
	tieEpsilon = 1e-7
	float64Eps = 2.220446049250313e-16
)

// Quantize converts a real coordinate to its stored integer using
// round-half-away-from-zero. Values that overflow int32 are a FormatError.
func Quantize(v, scale, offset float64) (int32, error) {
	q := (v - offset) / scale
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return 0, &FormatError{Reason: fmt.Sprintf("coordinate %g cannot be quantized with scale %g", v, scale)}
	}

	r := math.Round(q)
	eps := tieEpsilon + 4*float64Eps*(math.Abs(v)+math.Abs(offset))/math.Abs(scale)
	if _, frac := math.Modf(math.Abs(q)); math.Abs(frac-0.5) < eps {
		// float noise may sit on either side of the tie; the decimal value
		// of the inputs decides it
		d := decimal.NewFromFloat(v).
			Sub(decimal.NewFromFloat(offset)).
			Div(decimal.NewFromFloat(scale)).
			Round(0)
		r = float64(d.IntPart())
	}

	if r > math.MaxInt32 || r < math.MinInt32 {
		return 0, &FormatError{Reason: fmt.Sprintf("coordinate %g overflows int32 with scale %g offset %g", v, scale, offset)}
	}
	return int32(r), nil
}

// Dequantize applies real = raw*scale + offset.
func Dequantize(raw int32, scale, offset float64) float64 {
	return float64(raw)*scale + offset
}

// RecordCodec encodes and decodes the records of one file.
type RecordCodec struct {
	Format       uint8
	RecordLength int
	Scale        [3]float64
	Offset       [3]float64
	fields       FieldMask
}

// NewRecordCodec builds a codec for the header's format and quantization.
func NewRecordCodec(h *Header) (*RecordCodec, error) {
	if !SupportedFormat(h.PointFormat) {
		return nil, &FormatError{Format: h.PointFormat, Reason: "unsupported point data format"}
	}
	length := int(h.RecordLength)
	if length == 0 {
		length = MinRecordLength(h.PointFormat)
	}
	if length < MinRecordLength(h.PointFormat) {
		return nil, &FormatError{
			Format: h.PointFormat,
			Reason: fmt.Sprintf("record length %d shorter than format minimum %d", length, MinRecordLength(h.PointFormat)),
		}
	}
	return &RecordCodec{
		Format:       h.PointFormat,
		RecordLength: length,
		Scale:        h.Scale,
		Offset:       h.Offset,
		fields:       FormatFields(h.PointFormat),
	}, nil
}

// Fields returns what the codec's format stores.
func (c *RecordCodec) Fields() FieldMask {
	return c.fields
}

// DecodeRecord decodes raw with a codec built from h.
func DecodeRecord(raw []byte, h *Header, mask FieldMask) (PointRecord, error) {
	c, err := NewRecordCodec(h)
	if err != nil {
		return PointRecord{}, err
	}
	var rec PointRecord
	err = c.Decode(raw, mask, &rec)
	return rec, err
}

// EncodeRecord encodes rec with a codec built from h.
func EncodeRecord(rec *PointRecord, h *Header) ([]byte, error) {
	c, err := NewRecordCodec(h)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, c.RecordLength)
	if err := c.Encode(rec, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode fills rec from raw, touching only the byte ranges of the fields in
// mask. rec.Fields is set to the decoded fields.
//
// Legacy formats 0-3 (LAS 1.4 R15 Table 7):
//
//	0  X int32, 4 Y, 8 Z
//	12 intensity u16
//	14 return number:3 | number of returns:3 | scan direction:1 | edge:1
//	15 class:5 | synthetic:1 | keypoint:1 | withheld:1
//	16 scan angle rank int8
//	17 user data
//	18 point source id u16
//	20 GPS time f64 (1, 3), then RGB (3) or RGB at 20 (2)
//
// Extended formats 6-8 (Table 13):
//
//	14 return number:4 | number of returns:4
//	15 class flags:4 | scanner channel:2 | scan direction:1 | edge:1
//	16 classification u8
//	17 user data
//	18 scan angle int16 (0.006 degree units)
//	20 point source id u16
//	22 GPS time f64, 30 RGB (7, 8), 36 NIR (8)
func (c *RecordCodec) Decode(raw []byte, mask FieldMask, rec *PointRecord) error {
	if len(raw) != c.RecordLength {
		return &FormatError{
			Format: c.Format,
			Reason: fmt.Sprintf("record is %d bytes, declared record length is %d", len(raw), c.RecordLength),
		}
	}

	le := binary.LittleEndian
	want := (mask | FieldXYZ) & c.fields
	*rec = PointRecord{Fields: want}

	rec.X = Dequantize(int32(le.Uint32(raw[0:4])), c.Scale[0], c.Offset[0])
	rec.Y = Dequantize(int32(le.Uint32(raw[4:8])), c.Scale[1], c.Offset[1])
	rec.Z = Dequantize(int32(le.Uint32(raw[8:12])), c.Scale[2], c.Offset[2])

	if want.Has(FieldIntensity) {
		rec.Intensity = le.Uint16(raw[12:14])
	}

	if c.Format < 6 {
		c.decodeLegacy(raw, want, rec)
	} else {
		c.decodeExtended(raw, want, rec)
	}
	return nil
}

func (c *RecordCodec) decodeLegacy(raw []byte, want FieldMask, rec *PointRecord) {
	le := binary.LittleEndian
	if want.Any(fieldReturnBits | FieldScanDirection | FieldEdgeOfFlightLine) {
		b := raw[14]
		rec.ReturnNumber = b & 0x07 * b2u8(want.Has(FieldReturnNumber))
		rec.NumberOfReturns = (b >> 3) & 0x07 * b2u8(want.Has(FieldNumberOfReturns))
		rec.ScanDirection = want.Has(FieldScanDirection) && b&0x40 != 0
		rec.EdgeOfFlightLine = want.Has(FieldEdgeOfFlightLine) && b&0x80 != 0
	}
	if want.Any(FieldClassification | FieldSynthetic | FieldKeypoint | FieldWithheld) {
		b := raw[15]
		rec.Classification = b & 0x1f * b2u8(want.Has(FieldClassification))
		rec.Synthetic = want.Has(FieldSynthetic) && b&0x20 != 0
		rec.Keypoint = want.Has(FieldKeypoint) && b&0x40 != 0
		rec.Withheld = want.Has(FieldWithheld) && b&0x80 != 0
	}
	if want.Has(FieldScanAngle) {
		rec.ScanAngle = float32(int8(raw[16]))
	}
	if want.Has(FieldUserData) {
		rec.UserData = raw[17]
	}
	if want.Has(FieldPointSourceID) {
		rec.PointSourceID = le.Uint16(raw[18:20])
	}

	rgb := 20
	if c.Format == 1 || c.Format == 3 {
		if want.Has(FieldGPSTime) {
			rec.GPSTime = f64(raw[20:28])
		}
		rgb = 28
	}
	if c.Format == 2 || c.Format == 3 {
		decodeRGB(raw[rgb:], want, rec)
	}
}

func (c *RecordCodec) decodeExtended(raw []byte, want FieldMask, rec *PointRecord) {
	le := binary.LittleEndian
	if want.Any(fieldReturnBits) {
		b := raw[14]
		rec.ReturnNumber = b & 0x0f * b2u8(want.Has(FieldReturnNumber))
		rec.NumberOfReturns = (b >> 4) * b2u8(want.Has(FieldNumberOfReturns))
	}
	if want.Any(fieldFlagBits) {
		b := raw[15]
		rec.Synthetic = want.Has(FieldSynthetic) && b&0x01 != 0
		rec.Keypoint = want.Has(FieldKeypoint) && b&0x02 != 0
		rec.Withheld = want.Has(FieldWithheld) && b&0x04 != 0
		rec.Overlap = want.Has(FieldOverlap) && b&0x08 != 0
		rec.ScannerChannel = (b >> 4) & 0x03 * b2u8(want.Has(FieldScannerChannel))
		rec.ScanDirection = want.Has(FieldScanDirection) && b&0x40 != 0
		rec.EdgeOfFlightLine = want.Has(FieldEdgeOfFlightLine) && b&0x80 != 0
	}
	if want.Has(FieldClassification) {
		rec.Classification = raw[16]
	}
	if want.Has(FieldUserData) {
		rec.UserData = raw[17]
	}
	if want.Has(FieldScanAngle) {
		rec.ScanAngle = float32(float64(int16(le.Uint16(raw[18:20]))) * scanAngleUnit)
	}
	if want.Has(FieldPointSourceID) {
		rec.PointSourceID = le.Uint16(raw[20:22])
	}
	if want.Has(FieldGPSTime) {
		rec.GPSTime = f64(raw[22:30])
	}
	if c.Format >= 7 {
		decodeRGB(raw[30:], want, rec)
	}
	if c.Format == 8 && want.Has(FieldNIR) {
		rec.NIR = le.Uint16(raw[36:38])
	}
}

func decodeRGB(b []byte, want FieldMask, rec *PointRecord) {
	le := binary.LittleEndian
	if want.Has(FieldRed) {
		rec.R = le.Uint16(b[0:2])
	}
	if want.Has(FieldGreen) {
		rec.G = le.Uint16(b[2:4])
	}
	if want.Has(FieldBlue) {
		rec.B = le.Uint16(b[4:6])
	}
}

// Encode writes a full record into dst, which must be RecordLength bytes.
// Extra bytes past the format minimum are zeroed.
func (c *RecordCodec) Encode(rec *PointRecord, dst []byte) error {
	if len(dst) != c.RecordLength {
		return &FormatError{
			Format: c.Format,
			Reason: fmt.Sprintf("buffer is %d bytes, record length is %d", len(dst), c.RecordLength),
		}
	}
	for i := range dst {
		dst[i] = 0
	}

	le := binary.LittleEndian
	for i, v := range [3]float64{rec.X, rec.Y, rec.Z} {
		q, err := Quantize(v, c.Scale[i], c.Offset[i])
		if err != nil {
			return err
		}
		le.PutUint32(dst[4*i:], uint32(q))
	}
	le.PutUint16(dst[12:14], rec.Intensity)

	if c.Format < 6 {
		return c.encodeLegacy(rec, dst)
	}
	return c.encodeExtended(rec, dst)
}

func (c *RecordCodec) encodeLegacy(rec *PointRecord, dst []byte) error {
	le := binary.LittleEndian
	if rec.ReturnNumber > 7 || rec.NumberOfReturns > 7 {
		return &FormatError{Format: c.Format, Reason: fmt.Sprintf("return %d of %d does not fit 3 bits", rec.ReturnNumber, rec.NumberOfReturns)}
	}
	if rec.Classification > 31 {
		return &FormatError{Format: c.Format, Reason: fmt.Sprintf("classification %d does not fit 5 bits", rec.Classification)}
	}

	dst[14] = rec.ReturnNumber | rec.NumberOfReturns<<3 |
		b2u8(rec.ScanDirection)<<6 | b2u8(rec.EdgeOfFlightLine)<<7
	dst[15] = rec.Classification | b2u8(rec.Synthetic)<<5 |
		b2u8(rec.Keypoint)<<6 | b2u8(rec.Withheld)<<7

	angle := math.Round(float64(rec.ScanAngle))
	dst[16] = byte(int8(math.Max(-90, math.Min(90, angle))))
	dst[17] = rec.UserData
	le.PutUint16(dst[18:20], rec.PointSourceID)

	rgb := 20
	if c.Format == 1 || c.Format == 3 {
		le.PutUint64(dst[20:28], math.Float64bits(rec.GPSTime))
		rgb = 28
	}
	if c.Format == 2 || c.Format == 3 {
		encodeRGB(rec, dst[rgb:])
	}
	return nil
}

func (c *RecordCodec) encodeExtended(rec *PointRecord, dst []byte) error {
	le := binary.LittleEndian
	if rec.ReturnNumber > 15 || rec.NumberOfReturns > 15 {
		return &FormatError{Format: c.Format, Reason: fmt.Sprintf("return %d of %d does not fit 4 bits", rec.ReturnNumber, rec.NumberOfReturns)}
	}
	if rec.ScannerChannel > 3 {
		return &FormatError{Format: c.Format, Reason: fmt.Sprintf("scanner channel %d does not fit 2 bits", rec.ScannerChannel)}
	}

	dst[14] = rec.ReturnNumber | rec.NumberOfReturns<<4
	dst[15] = b2u8(rec.Synthetic) | b2u8(rec.Keypoint)<<1 |
		b2u8(rec.Withheld)<<2 | b2u8(rec.Overlap)<<3 |
		rec.ScannerChannel<<4 |
		b2u8(rec.ScanDirection)<<6 | b2u8(rec.EdgeOfFlightLine)<<7
	dst[16] = rec.Classification
	dst[17] = rec.UserData

	angle := math.Round(float64(rec.ScanAngle) / scanAngleUnit)
	angle = math.Max(-30000, math.Min(30000, angle))
	le.PutUint16(dst[18:20], uint16(int16(angle)))
	le.PutUint16(dst[20:22], rec.PointSourceID)
	le.PutUint64(dst[22:30], math.Float64bits(rec.GPSTime))

	if c.Format >= 7 {
		encodeRGB(rec, dst[30:])
	}
	if c.Format == 8 {
		le.PutUint16(dst[36:38], rec.NIR)
	}
	return nil
}

func encodeRGB(rec *PointRecord, b []byte) {
	le := binary.LittleEndian
	le.PutUint16(b[0:2], rec.R)
	le.PutUint16(b[2:4], rec.G)
	le.PutUint16(b[4:6], rec.B)
}

func b2u8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
