package parser

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/beetlebugorg/lascat/internal/compress"
)

// WriteOptions configures encoding
type WriteOptions struct {
	// Compression selects the frame codec. Zero writes raw records.
	Compression compress.ID

	// ChunkSize is the number of points per compressed frame.
	// Default: DefaultChunkSize
	ChunkSize uint32

	// RegenerateHeader computes the bounding box from the written points
	// instead of checking them against the declared one.
	RegenerateHeader bool
}

// Writer streams records into a LAS file. Point count, points-by-return and,
// with RegenerateHeader, the bounding box are patched into the header on Close.
type Writer struct {
	dst    io.WriteSeeker
	closer io.Closer
	header *Header
	codec  *RecordCodec
	frames compress.Codec
	opts   WriteOptions

	out   *bufio.Writer
	evlrs []VLR
	rec   []byte
	frame []byte
	n     uint32 // records in the pending frame

	count  uint64
	pbr    [15]uint64
	bounds Bounds
	tol    [3]float64
	err    error
}

// CreateWriter creates path and returns a Writer owning the file.
func CreateWriter(path string, h *Header, opts WriteOptions) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, h, opts)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	w.closer = f
	return w, nil
}

// NewWriter writes a provisional header and VLR table to dst. The header is
// copied; later changes to h do not affect the file.
func NewWriter(dst io.WriteSeeker, h *Header, opts WriteOptions) (*Writer, error) {
	hdr := h.Clone()
	if err := checkVersion(hdr.VersionMajor, hdr.VersionMinor); err != nil {
		return nil, err
	}
	if hdr.PointFormat >= 6 && hdr.VersionMinor < 4 {
		return nil, &FormatError{Format: hdr.PointFormat, Reason: fmt.Sprintf("point format requires LAS 1.4, header is %s", hdr.Version())}
	}

	codec, err := NewRecordCodec(hdr)
	if err != nil {
		return nil, err
	}
	hdr.RecordLength = uint16(codec.RecordLength)

	w := &Writer{
		dst:    dst,
		header: hdr,
		codec:  codec,
		opts:   opts,
		rec:    make([]byte, codec.RecordLength),
		bounds: EmptyBounds(),
	}
	for i := range w.tol {
		w.tol[i] = hdr.Scale[i] / 2
	}

	hdr.Compression = opts.Compression
	hdr.ChunkSize = 0
	if opts.Compression != 0 {
		if w.frames, err = compress.Get(opts.Compression); err != nil {
			return nil, err
		}
		hdr.ChunkSize = opts.ChunkSize
		if hdr.ChunkSize == 0 {
			hdr.ChunkSize = DefaultChunkSize
		}
		w.frame = make([]byte, 0, int(hdr.ChunkSize)*codec.RecordLength)
	}

	vlrs, evlrs, err := hdr.vlrTable()
	if err != nil {
		return nil, err
	}
	w.evlrs = evlrs

	hdr.HeaderSize = uint16(headerSizeFor(hdr.VersionMinor))
	offset := uint32(hdr.HeaderSize)
	for _, v := range vlrs {
		offset += uint32(vlrHeaderSize + len(v.Data))
	}
	hdr.PointDataOffset = offset
	hdr.PointCount = 0
	hdr.PointsByReturn = [15]uint64{}
	hdr.EVLRStart = 0

	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	w.out = bufio.NewWriterSize(dst, 1<<16)
	if _, err := w.out.Write(encodeHeader(hdr, uint32(len(vlrs)), uint32(len(evlrs)))); err != nil {
		return nil, err
	}
	for _, v := range vlrs {
		if _, err := w.out.Write(encodeVLR(v)); err != nil {
			return nil, err
		}
	}

	return w, nil
}

// Header returns the writer's header copy.
func (w *Writer) Header() *Header {
	return w.header
}

// Write appends one record. Unless RegenerateHeader is set, a point outside
// the declared bounding box fails with BoundingBoxMismatchError and nothing
// is written for it.
func (w *Writer) Write(p *PointRecord) error {
	if w.err != nil {
		return w.err
	}

	if err := w.codec.Encode(p, w.rec); err != nil {
		return err
	}

	// check the stored coordinate, not the caller's unrounded one
	le := binary.LittleEndian
	x := Dequantize(int32(le.Uint32(w.rec[0:4])), w.codec.Scale[0], w.codec.Offset[0])
	y := Dequantize(int32(le.Uint32(w.rec[4:8])), w.codec.Scale[1], w.codec.Offset[1])
	z := Dequantize(int32(le.Uint32(w.rec[8:12])), w.codec.Scale[2], w.codec.Offset[2])
	if !w.opts.RegenerateHeader && !w.withinDeclared(x, y, z) {
		return &BoundingBoxMismatchError{Index: w.count, X: p.X, Y: p.Y, Z: p.Z, Bounds: w.header.Bounds}
	}

	if w.frames == nil {
		if _, err := w.out.Write(w.rec); err != nil {
			w.err = err
			return err
		}
	} else {
		w.frame = append(w.frame, w.rec...)
		w.n++
		if w.n == w.header.ChunkSize {
			if err := w.flushFrame(); err != nil {
				w.err = err
				return err
			}
		}
	}

	w.bounds.Extend(x, y, z)
	if p.ReturnNumber >= 1 && p.ReturnNumber <= 15 {
		w.pbr[p.ReturnNumber-1]++
	}
	w.count++
	return nil
}

func (w *Writer) withinDeclared(x, y, z float64) bool {
	b := w.header.Bounds
	return x >= b.MinX-w.tol[0] && x <= b.MaxX+w.tol[0] &&
		y >= b.MinY-w.tol[1] && y <= b.MaxY+w.tol[1] &&
		z >= b.MinZ-w.tol[2] && z <= b.MaxZ+w.tol[2]
}

func (w *Writer) flushFrame() error {
	if w.n == 0 {
		return nil
	}
	packed, err := w.frames.Compress(w.frame)
	if err != nil {
		return fmt.Errorf("compress frame: %w", err)
	}

	var hdr [frameHeaderSize]byte
	le := binary.LittleEndian
	le.PutUint32(hdr[0:4], w.n)
	le.PutUint32(hdr[4:8], uint32(len(packed)))
	le.PutUint64(hdr[8:16], xxhash.Sum64(w.frame))
	if _, err := w.out.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.out.Write(packed); err != nil {
		return err
	}

	w.frame = w.frame[:0]
	w.n = 0
	return nil
}

// Count returns the number of records written so far.
func (w *Writer) Count() uint64 {
	return w.count
}

// Close flushes pending records, writes EVLRs and patches the header.
func (w *Writer) Close() error {
	if w.out == nil {
		return w.err
	}
	err := w.finish()
	w.out = nil
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
		w.closer = nil
	}
	return err
}

func (w *Writer) finish() error {
	if w.err != nil {
		return w.err
	}
	if w.frames != nil {
		if err := w.flushFrame(); err != nil {
			return err
		}
	}

	h := w.header
	if len(w.evlrs) > 0 {
		if err := w.out.Flush(); err != nil {
			return err
		}
		pos, err := w.dst.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		h.EVLRStart = uint64(pos)
		for _, v := range w.evlrs {
			if _, err := w.out.Write(encodeVLR(v)); err != nil {
				return err
			}
		}
	}
	if err := w.out.Flush(); err != nil {
		return err
	}

	h.PointCount = w.count
	h.PointsByReturn = w.pbr
	if w.opts.RegenerateHeader {
		if w.count > 0 {
			h.Bounds = w.bounds
		} else {
			h.Bounds = Bounds{}
		}
	}
	if h.VersionMinor < 4 && w.count > 1<<32-1 {
		return &FormatError{Format: h.PointFormat, Reason: fmt.Sprintf("%d points need LAS 1.4", w.count)}
	}

	vlrs, _, err := h.vlrTable()
	if err != nil {
		return err
	}
	if _, err := w.dst.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.dst.Write(encodeHeader(h, uint32(len(vlrs)), uint32(len(w.evlrs)))); err != nil {
		return err
	}
	_, err = w.dst.Seek(0, io.SeekEnd)
	return err
}
