package parser

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/beetlebugorg/lascat/internal/compress"
)

// Public header block sizes per version
// LAS 1.4 R15 §2.4: 1.0-1.2 = 227 bytes, 1.3 adds the waveform pointer,
// 1.4 adds EVLR pointers and 64-bit counters.
const (
	headerSize12 = 227
	headerSize13 = 235
	headerSize14 = 375

	vlrHeaderSize  = 54
	evlrHeaderSize = 60

	lasSignature = "LASF"

	// compressedFlag marks a compressed payload in the point format byte
	compressedFlag = 0x80
)

// lascat VLR carrying the frame codec
const (
	CompressionUserID   = "lascat"
	CompressionRecordID = 22204
	compressionVLRSize  = 8
)

// DefaultChunkSize is the number of points per compressed frame.
const DefaultChunkSize = 50000

// VLR is a variable length record. Extended records (1.4 EVLRs) live after
// the point payload and may exceed 64 KiB.
type VLR struct {
	UserID      string
	RecordID    uint16
	Description string
	Data        []byte
	Extended    bool
}

// Header is the LAS public header block together with its VLR table
type Header struct {
	FileSourceID       uint16
	GlobalEncoding     uint16
	ProjectID          [16]byte
	VersionMajor       uint8
	VersionMinor       uint8
	SystemIdentifier   string
	GeneratingSoftware string
	CreationDay        uint16
	CreationYear       uint16
	HeaderSize         uint16
	PointDataOffset    uint32
	PointFormat        uint8
	RecordLength       uint16
	PointCount         uint64
	PointsByReturn     [15]uint64
	Scale              [3]float64
	Offset             [3]float64
	Bounds             Bounds
	WaveformStart      uint64
	EVLRStart          uint64
	VLRs               []VLR

	// Compression is the frame codec; zero means raw records.
	Compression compress.ID
	ChunkSize   uint32
}

// Version returns "major.minor".
func (h *Header) Version() string {
	return fmt.Sprintf("%d.%d", h.VersionMajor, h.VersionMinor)
}

// Compressed reports whether the payload is framed and compressed.
func (h *Header) Compressed() bool {
	return h.Compression != 0
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	c := *h
	c.VLRs = make([]VLR, len(h.VLRs))
	for i, v := range h.VLRs {
		c.VLRs[i] = v
		c.VLRs[i].Data = append([]byte(nil), v.Data...)
	}
	return &c
}

// headerSizeFor returns the fixed header size of a version.
func headerSizeFor(minor uint8) int {
	switch {
	case minor >= 4:
		return headerSize14
	case minor == 3:
		return headerSize13
	default:
		return headerSize12
	}
}

func checkVersion(major, minor uint8) error {
	if major != 1 || minor > 4 {
		return &UnsupportedVersionError{Major: major, Minor: minor}
	}
	return nil
}

// ReadHeader parses the public header block, the VLR table and, for LAS 1.4,
// the EVLR table. The reader is left at an unspecified position.
func ReadHeader(r io.ReadSeeker) (*Header, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	fixed := make([]byte, headerSize12)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("short header: %v", err)}
	}
	if string(fixed[0:4]) != lasSignature {
		return nil, &FormatError{Reason: fmt.Sprintf("bad file signature %q", fixed[0:4])}
	}

	major, minor := fixed[24], fixed[25]
	if err := checkVersion(major, minor); err != nil {
		return nil, err
	}

	size := int(binary.LittleEndian.Uint16(fixed[94:96]))
	if size < headerSizeFor(minor) {
		return nil, &FormatError{Reason: fmt.Sprintf("header size %d too small for LAS %d.%d", size, major, minor)}
	}

	data := make([]byte, size)
	copy(data, fixed)
	if size > headerSize12 {
		if _, err := io.ReadFull(r, data[headerSize12:]); err != nil {
			return nil, &FormatError{Reason: fmt.Sprintf("short header: %v", err)}
		}
	}

	h, vlrCount, evlrCount, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	// VLRs directly follow the header block and end at the point data
	if _, err := r.Seek(int64(h.HeaderSize), io.SeekStart); err != nil {
		return nil, err
	}
	pos := int64(h.HeaderSize)
	for i := uint32(0); i < vlrCount; i++ {
		v, n, err := readVLR(r, false)
		if err != nil {
			return nil, &FormatError{Format: h.PointFormat, Reason: fmt.Sprintf("VLR %d: %v", i, err)}
		}
		pos += n
		if pos > int64(h.PointDataOffset) {
			return nil, &FormatError{Format: h.PointFormat, Reason: fmt.Sprintf("VLR %d overruns point data offset %d", i, h.PointDataOffset)}
		}
		h.VLRs = append(h.VLRs, v)
	}

	if evlrCount > 0 && h.EVLRStart > 0 {
		if _, err := r.Seek(int64(h.EVLRStart), io.SeekStart); err != nil {
			return nil, err
		}
		for i := uint32(0); i < evlrCount; i++ {
			v, _, err := readVLR(r, true)
			if err != nil {
				return nil, &FormatError{Format: h.PointFormat, Reason: fmt.Sprintf("EVLR %d: %v", i, err)}
			}
			h.VLRs = append(h.VLRs, v)
		}
	}

	if err := h.extractCompression(); err != nil {
		return nil, err
	}

	return h, nil
}

// decodeHeader interprets the fixed header fields.
// Offsets per LAS 1.4 R15 Table 3.
func decodeHeader(data []byte) (*Header, uint32, uint32, error) {
	le := binary.LittleEndian
	h := &Header{
		FileSourceID:       le.Uint16(data[4:6]),
		GlobalEncoding:     le.Uint16(data[6:8]),
		VersionMajor:       data[24],
		VersionMinor:       data[25],
		SystemIdentifier:   cString(data[26:58]),
		GeneratingSoftware: cString(data[58:90]),
		CreationDay:        le.Uint16(data[90:92]),
		CreationYear:       le.Uint16(data[92:94]),
		HeaderSize:         le.Uint16(data[94:96]),
		PointDataOffset:    le.Uint32(data[96:100]),
		RecordLength:       le.Uint16(data[105:107]),
	}
	copy(h.ProjectID[:], data[8:24])
	vlrCount := le.Uint32(data[100:104])

	formatByte := data[104]
	h.PointFormat = formatByte &^ compressedFlag
	if formatByte&0x40 != 0 {
		return nil, 0, 0, &FormatError{Reason: "LASzip arithmetic-coded payloads are not supported"}
	}
	if !SupportedFormat(h.PointFormat) {
		return nil, 0, 0, &FormatError{Format: h.PointFormat, Reason: "unsupported point data format"}
	}
	if int(h.RecordLength) < MinRecordLength(h.PointFormat) {
		return nil, 0, 0, &FormatError{
			Format: h.PointFormat,
			Reason: fmt.Sprintf("record length %d shorter than format minimum %d", h.RecordLength, MinRecordLength(h.PointFormat)),
		}
	}
	if formatByte&compressedFlag != 0 {
		// codec id filled in from the lascat VLR
		h.Compression = compress.ID(0xff)
	}

	h.PointCount = uint64(le.Uint32(data[107:111]))
	for i := 0; i < 5; i++ {
		h.PointsByReturn[i] = uint64(le.Uint32(data[111+4*i:]))
	}
	for i := 0; i < 3; i++ {
		h.Scale[i] = math.Float64frombits(le.Uint64(data[131+8*i:]))
		h.Offset[i] = math.Float64frombits(le.Uint64(data[155+8*i:]))
	}
	for i := 0; i < 3; i++ {
		if h.Scale[i] == 0 || math.IsNaN(h.Scale[i]) || math.IsInf(h.Scale[i], 0) {
			return nil, 0, 0, &FormatError{Format: h.PointFormat, Reason: fmt.Sprintf("invalid scale factor %g", h.Scale[i])}
		}
	}
	h.Bounds = Bounds{
		MaxX: f64(data[179:]), MinX: f64(data[187:]),
		MaxY: f64(data[195:]), MinY: f64(data[203:]),
		MaxZ: f64(data[211:]), MinZ: f64(data[219:]),
	}

	var evlrCount uint32
	if h.VersionMinor >= 3 {
		h.WaveformStart = le.Uint64(data[227:235])
	}
	if h.VersionMinor >= 4 {
		h.EVLRStart = le.Uint64(data[235:243])
		evlrCount = le.Uint32(data[243:247])
		if count := le.Uint64(data[247:255]); count != 0 || h.PointCount == 0 {
			h.PointCount = count
			for i := 0; i < 15; i++ {
				h.PointsByReturn[i] = le.Uint64(data[255+8*i:])
			}
		}
	}

	if h.PointDataOffset < uint32(h.HeaderSize) {
		return nil, 0, 0, &FormatError{Format: h.PointFormat, Reason: fmt.Sprintf("point data offset %d inside header", h.PointDataOffset)}
	}

	return h, vlrCount, evlrCount, nil
}

// readVLR reads one VLR or EVLR and returns the bytes consumed.
//
// VLR header (54 bytes): reserved u16, user id [16], record id u16,
// length u16, description [32]. EVLRs widen length to u64 (60 bytes).
func readVLR(r io.Reader, extended bool) (VLR, int64, error) {
	size := vlrHeaderSize
	if extended {
		size = evlrHeaderSize
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return VLR{}, 0, err
	}

	le := binary.LittleEndian
	v := VLR{
		UserID:   cString(buf[2:18]),
		RecordID: le.Uint16(buf[18:20]),
		Extended: extended,
	}
	var length uint64
	if extended {
		length = le.Uint64(buf[20:28])
		v.Description = cString(buf[28:60])
	} else {
		length = uint64(le.Uint16(buf[20:22]))
		v.Description = cString(buf[22:54])
	}
	if length > 1<<31 {
		return VLR{}, 0, fmt.Errorf("record length %d too large", length)
	}

	v.Data = make([]byte, length)
	if _, err := io.ReadFull(r, v.Data); err != nil {
		return VLR{}, 0, err
	}

	return v, int64(size) + int64(length), nil
}

// extractCompression moves the lascat VLR into Compression/ChunkSize.
func (h *Header) extractCompression() error {
	kept := h.VLRs[:0]
	var found bool
	for _, v := range h.VLRs {
		if v.UserID == CompressionUserID && v.RecordID == CompressionRecordID {
			if len(v.Data) < compressionVLRSize {
				return &FormatError{Format: h.PointFormat, Reason: "truncated compression VLR"}
			}
			if h.Compressed() {
				h.Compression = compress.ID(v.Data[0])
				h.ChunkSize = binary.LittleEndian.Uint32(v.Data[4:8])
			}
			found = true
			continue
		}
		kept = append(kept, v)
	}
	h.VLRs = kept

	if h.Compressed() && !found {
		return &FormatError{Format: h.PointFormat, Reason: "compressed payload without compression VLR"}
	}
	if h.Compressed() && h.Compression == 0 {
		return &FormatError{Format: h.PointFormat, Reason: "compression VLR names codec 0"}
	}
	return nil
}

// vlrTable returns the VLRs written before the point data, including the
// compression VLR when needed, and the EVLRs written after it.
func (h *Header) vlrTable() (vlrs, evlrs []VLR, err error) {
	for _, v := range h.VLRs {
		if v.Extended {
			evlrs = append(evlrs, v)
			continue
		}
		if len(v.Data) > math.MaxUint16 {
			return nil, nil, &FormatError{Format: h.PointFormat, Reason: fmt.Sprintf("VLR %s/%d payload %d bytes exceeds 65535", v.UserID, v.RecordID, len(v.Data))}
		}
		vlrs = append(vlrs, v)
	}
	if h.Compressed() {
		data := make([]byte, compressionVLRSize)
		data[0] = byte(h.Compression)
		binary.LittleEndian.PutUint32(data[4:8], h.ChunkSize)
		vlrs = append(vlrs, VLR{
			UserID:      CompressionUserID,
			RecordID:    CompressionRecordID,
			Description: "lascat frame codec",
			Data:        data,
		})
	}
	if len(evlrs) > 0 && h.VersionMinor < 4 {
		return nil, nil, &FormatError{Format: h.PointFormat, Reason: "extended VLRs require LAS 1.4"}
	}
	return vlrs, evlrs, nil
}

// encodeHeader serializes the fixed header block. HeaderSize, PointDataOffset
// and the VLR counts must already be set by the caller.
func encodeHeader(h *Header, vlrCount, evlrCount uint32) []byte {
	le := binary.LittleEndian
	size := headerSizeFor(h.VersionMinor)
	data := make([]byte, size)

	copy(data[0:4], lasSignature)
	le.PutUint16(data[4:6], h.FileSourceID)
	le.PutUint16(data[6:8], h.GlobalEncoding)
	copy(data[8:24], h.ProjectID[:])
	data[24] = h.VersionMajor
	data[25] = h.VersionMinor
	putCString(data[26:58], h.SystemIdentifier)
	putCString(data[58:90], h.GeneratingSoftware)
	le.PutUint16(data[90:92], h.CreationDay)
	le.PutUint16(data[92:94], h.CreationYear)
	le.PutUint16(data[94:96], uint16(size))
	le.PutUint32(data[96:100], h.PointDataOffset)
	le.PutUint32(data[100:104], vlrCount)

	formatByte := h.PointFormat
	if h.Compressed() {
		formatByte |= compressedFlag
	}
	data[104] = formatByte
	le.PutUint16(data[105:107], h.RecordLength)

	// Legacy counters stay zero for 1.4-only formats and oversized files
	if h.PointFormat < 6 && h.PointCount <= math.MaxUint32 {
		le.PutUint32(data[107:111], uint32(h.PointCount))
		for i := 0; i < 5; i++ {
			le.PutUint32(data[111+4*i:], uint32(h.PointsByReturn[i]))
		}
	}

	for i := 0; i < 3; i++ {
		le.PutUint64(data[131+8*i:], math.Float64bits(h.Scale[i]))
		le.PutUint64(data[155+8*i:], math.Float64bits(h.Offset[i]))
	}
	b := h.Bounds
	for i, v := range []float64{b.MaxX, b.MinX, b.MaxY, b.MinY, b.MaxZ, b.MinZ} {
		le.PutUint64(data[179+8*i:], math.Float64bits(v))
	}

	if h.VersionMinor >= 3 {
		le.PutUint64(data[227:235], h.WaveformStart)
	}
	if h.VersionMinor >= 4 {
		le.PutUint64(data[235:243], h.EVLRStart)
		le.PutUint32(data[243:247], evlrCount)
		le.PutUint64(data[247:255], h.PointCount)
		for i := 0; i < 15; i++ {
			le.PutUint64(data[255+8*i:], h.PointsByReturn[i])
		}
	}

	return data
}

func encodeVLR(v VLR) []byte {
	le := binary.LittleEndian
	size := vlrHeaderSize
	if v.Extended {
		size = evlrHeaderSize
	}
	buf := make([]byte, size+len(v.Data))
	putCString(buf[2:18], v.UserID)
	le.PutUint16(buf[18:20], v.RecordID)
	if v.Extended {
		le.PutUint64(buf[20:28], uint64(len(v.Data)))
		putCString(buf[28:60], v.Description)
	} else {
		le.PutUint16(buf[20:22], uint16(len(v.Data)))
		putCString(buf[22:54], v.Description)
	}
	copy(buf[size:], v.Data)
	return buf
}

func f64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// cString decodes a fixed-width, NUL padded field.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func putCString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// Software is written into GeneratingSoftware by NewHeader.
const Software = "lascat"

// NewHeader returns a header for format with the given quantization. Formats
// 6-8 get LAS 1.4, the others LAS 1.2.
func NewHeader(format uint8, scale, offset [3]float64) *Header {
	minor := uint8(2)
	if format >= 6 {
		minor = 4
	}
	now := time.Now().UTC()
	return &Header{
		VersionMajor:       1,
		VersionMinor:       minor,
		SystemIdentifier:   "OTHER",
		GeneratingSoftware: Software,
		CreationDay:        uint16(now.YearDay()),
		CreationYear:       uint16(now.Year()),
		HeaderSize:         uint16(headerSizeFor(minor)),
		PointFormat:        format,
		RecordLength:       uint16(MinRecordLength(format)),
		Scale:              scale,
		Offset:             offset,
	}
}

// HeaderFromPoints builds a header whose bounds and counts describe pts.
// Offsets are snapped to whole multiples of 1000 x scale below the minimum
// coordinate so stored integers stay small and positive.
func HeaderFromPoints(format uint8, scale [3]float64, pts []PointRecord) *Header {
	b := EmptyBounds()
	for i := range pts {
		b.Extend(pts[i].X, pts[i].Y, pts[i].Z)
	}
	var offset [3]float64
	if len(pts) > 0 {
		for i, lo := range [3]float64{b.MinX, b.MinY, b.MinZ} {
			step := decimal.NewFromFloat(scale[i]).Mul(decimal.NewFromInt(1000))
			offset[i] = decimal.NewFromFloat(lo).Div(step).Floor().Mul(step).InexactFloat64()
		}
	}

	h := NewHeader(format, scale, offset)
	Summarize(h, pts)
	return h
}
