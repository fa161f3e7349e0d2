package parser

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/beetlebugorg/lascat/internal/compress"
)

// frameHeaderSize: u32 point count, u32 compressed length, u64 xxhash64 of
// the uncompressed records
const frameHeaderSize = 16

// ReadOptions configures decoding
type ReadOptions struct {
	// Select lists the fields to decode. Zero selects every field.
	Select FieldMask

	// Filter drops points at decode time. Once bound the stream cannot be
	// rewound.
	Filter *Filter
}

// Reader streams the point records of one file. It is a pull iterator:
//
//	for r.Next() {
//	    p := r.Record()
//	}
//	if err := r.Err(); err != nil { ... }
type Reader struct {
	src    io.ReadSeeker
	closer io.Closer
	header *Header
	codec  *RecordCodec
	frames compress.Codec

	selected FieldMask // returned to the caller
	decode   FieldMask // selected plus filter needs
	filter   *Filter

	buf        *bufio.Reader
	raw        []byte
	payloadEnd int64

	// compressed payloads: the current frame and its remaining records
	frame     []byte
	frameLeft uint32

	consumed uint64 // records pulled from the payload
	kept     uint64 // records that passed the filter
	rec      PointRecord
	err      error
}

// OpenReader opens path and returns a Reader over its points.
func OpenReader(path string, opts ReadOptions) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f, opts)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewReader parses the header from src and prepares the point stream.
//
// Only header-level consistency is checked here: for raw payloads the payload
// length must equal PointCount x RecordLength, otherwise a CorruptStreamError
// is returned. Compressed payloads are checked frame by frame while reading.
func NewReader(src io.ReadSeeker, opts ReadOptions) (*Reader, error) {
	h, err := ReadHeader(src)
	if err != nil {
		return nil, err
	}
	codec, err := NewRecordCodec(h)
	if err != nil {
		return nil, err
	}

	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	payloadEnd := size
	if h.EVLRStart > 0 && int64(h.EVLRStart) <= size && h.EVLRStart >= uint64(h.PointDataOffset) {
		payloadEnd = int64(h.EVLRStart)
	}
	payload := payloadEnd - int64(h.PointDataOffset)
	if payload < 0 {
		return nil, &CorruptStreamError{Declared: h.PointCount, Reason: "point data offset past end of file"}
	}

	r := &Reader{
		src:        src,
		header:     h,
		codec:      codec,
		filter:     opts.Filter,
		raw:        make([]byte, codec.RecordLength),
		payloadEnd: payloadEnd,
	}
	if closer, ok := src.(io.Closer); ok {
		r.closer = closer
	}

	r.selected = opts.Select
	if r.selected == 0 {
		r.selected = FieldAll
	}
	r.selected = (r.selected | FieldXYZ) & codec.Fields()
	r.decode = r.selected | opts.Filter.Needs()

	if h.Compressed() {
		if r.frames, err = compress.Get(h.Compression); err != nil {
			return nil, &FormatError{Format: h.PointFormat, Reason: err.Error()}
		}
	} else {
		recLen := int64(codec.RecordLength)
		if payload%recLen != 0 || uint64(payload/recLen) != h.PointCount {
			return nil, &CorruptStreamError{
				Declared: h.PointCount,
				Actual:   uint64(payload / recLen),
				Reason:   fmt.Sprintf("payload is %d bytes for %d-byte records", payload, recLen),
			}
		}
	}

	if err := r.seekPayload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) seekPayload() error {
	if _, err := r.src.Seek(int64(r.header.PointDataOffset), io.SeekStart); err != nil {
		return err
	}
	limited := io.LimitReader(r.src, r.payloadEnd-int64(r.header.PointDataOffset))
	if r.buf == nil {
		r.buf = bufio.NewReaderSize(limited, 1<<16)
	} else {
		r.buf.Reset(limited)
	}
	r.frame, r.frameLeft = nil, 0
	r.consumed, r.kept = 0, 0
	r.err = nil
	return nil
}

// Header returns the parsed header. Counts describe the whole file, not the
// filtered stream.
func (r *Reader) Header() *Header {
	return r.header
}

// Selected returns the fields populated in returned records.
func (r *Reader) Selected() FieldMask {
	return r.selected
}

// Next advances to the next record that passes the filter.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	for {
		raw, ok := r.nextRaw()
		if !ok {
			return false
		}
		if err := r.codec.Decode(raw, r.decode, &r.rec); err != nil {
			r.err = err
			return false
		}
		if !r.filter.Match(&r.rec) {
			continue
		}
		if r.decode != r.selected {
			r.rec = r.rec.Mask(r.selected)
		}
		r.kept++
		return true
	}
}

// Record returns the current record.
func (r *Reader) Record() PointRecord {
	return r.rec
}

// Err returns the first error met while iterating.
func (r *Reader) Err() error {
	return r.err
}

// Consumed returns how many records were pulled from the payload, kept or not.
func (r *Reader) Consumed() uint64 {
	return r.consumed
}

// Rewind restarts the stream. Filtered streams are single pass and return
// ErrNotRestartable.
func (r *Reader) Rewind() error {
	if r.filter != nil {
		return ErrNotRestartable
	}
	return r.seekPayload()
}

// Close releases the underlying file when the Reader owns it.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

// nextRaw returns the bytes of the next record in the payload.
func (r *Reader) nextRaw() ([]byte, bool) {
	h := r.header
	if r.consumed >= h.PointCount {
		if h.Compressed() {
			// trailing frames past the declared count
			if _, err := r.buf.Peek(1); err == nil {
				r.err = &CorruptStreamError{Declared: h.PointCount, Actual: r.consumed, Reason: "data after last declared point"}
			}
		}
		return nil, false
	}

	if !h.Compressed() {
		if _, err := io.ReadFull(r.buf, r.raw); err != nil {
			r.err = &CorruptStreamError{Declared: h.PointCount, Actual: r.consumed, Reason: err.Error()}
			return nil, false
		}
		r.consumed++
		return r.raw, true
	}

	if r.frameLeft == 0 {
		if err := r.readFrame(); err != nil {
			r.err = err
			return nil, false
		}
	}
	n := r.codec.RecordLength
	raw := r.frame[:n]
	r.frame = r.frame[n:]
	r.frameLeft--
	r.consumed++
	return raw, true
}

// readFrame loads and verifies the next compressed frame.
func (r *Reader) readFrame() error {
	h := r.header
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r.buf, hdr[:]); err != nil {
		reason := "truncated frame header"
		if errors.Is(err, io.EOF) {
			reason = "payload ended early"
		}
		return &CorruptStreamError{Declared: h.PointCount, Actual: r.consumed, Reason: reason}
	}

	le := binary.LittleEndian
	count := le.Uint32(hdr[0:4])
	clen := le.Uint32(hdr[4:8])
	sum := le.Uint64(hdr[8:16])
	if count == 0 || uint64(count) > h.PointCount-r.consumed {
		return &CorruptStreamError{
			Declared: h.PointCount,
			Actual:   r.consumed + uint64(count),
			Reason:   fmt.Sprintf("frame of %d points overruns declared count", count),
		}
	}

	packed := make([]byte, clen)
	if _, err := io.ReadFull(r.buf, packed); err != nil {
		return &CorruptStreamError{Declared: h.PointCount, Actual: r.consumed, Reason: "truncated frame payload"}
	}

	rawSize := int(count) * r.codec.RecordLength
	data, err := r.frames.Decompress(packed, rawSize)
	if err != nil {
		return &CorruptStreamError{Declared: h.PointCount, Actual: r.consumed, Reason: fmt.Sprintf("%s frame: %v", h.Compression, err)}
	}
	if len(data) != rawSize {
		return &CorruptStreamError{
			Declared: h.PointCount,
			Actual:   r.consumed + uint64(len(data)/r.codec.RecordLength),
			Reason:   fmt.Sprintf("frame decoded to %d bytes, want %d", len(data), rawSize),
		}
	}
	if xxhash.Sum64(data) != sum {
		return &CorruptStreamError{Declared: h.PointCount, Actual: r.consumed, Reason: "frame checksum mismatch"}
	}

	r.frame = data
	r.frameLeft = count
	return nil
}

// ReadAll drains the reader. With a filter bound, the returned header copy
// has its counts and bounds recomputed from the kept points.
func ReadAll(r *Reader) (*Header, []PointRecord, error) {
	var pts []PointRecord
	if r.filter == nil && r.header.PointCount < 1<<28 {
		pts = make([]PointRecord, 0, r.header.PointCount)
	}
	for r.Next() {
		pts = append(pts, r.Record())
	}
	if err := r.Err(); err != nil {
		return nil, nil, err
	}

	h := r.header.Clone()
	if r.filter != nil {
		Summarize(h, pts)
	}
	return h, pts, nil
}

// Summarize rewrites the point count, points-by-return and bounds of h from
// pts.
func Summarize(h *Header, pts []PointRecord) {
	h.PointCount = uint64(len(pts))
	h.PointsByReturn = [15]uint64{}
	b := EmptyBounds()
	for i := range pts {
		p := &pts[i]
		b.Extend(p.X, p.Y, p.Z)
		if p.ReturnNumber >= 1 && p.ReturnNumber <= 15 {
			h.PointsByReturn[p.ReturnNumber-1]++
		}
	}
	if len(pts) == 0 {
		b = Bounds{}
	}
	h.Bounds = b
}
