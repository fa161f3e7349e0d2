package parser

import (
	"errors"
	"fmt"
)

// ErrNotRestartable is returned by Reader.Rewind once a filter is bound; the
// filtered stream is single pass.
var ErrNotRestartable = errors.New("filtered point stream cannot be restarted")

// FormatError indicates a malformed header or point record
type FormatError struct {
	Format uint8 // point data format, when known
	Reason string
}

func (e *FormatError) Error() string {
	if e.Format != 0 {
		return fmt.Sprintf("format error (point format %d): %s", e.Format, e.Reason)
	}
	return fmt.Sprintf("format error: %s", e.Reason)
}

// CorruptStreamError indicates the point payload disagrees with the header
type CorruptStreamError struct {
	Declared uint64 // point count in the header
	Actual   uint64 // points the payload actually holds, or read so far
	Reason   string
}

func (e *CorruptStreamError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("corrupt point stream: %s (declared %d points, found %d)",
			e.Reason, e.Declared, e.Actual)
	}
	return fmt.Sprintf("corrupt point stream: declared %d points, found %d", e.Declared, e.Actual)
}

// UnsupportedVersionError indicates a LAS version outside 1.0-1.4
type UnsupportedVersionError struct {
	Major, Minor uint8
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported LAS version %d.%d (supported: 1.0-1.4)", e.Major, e.Minor)
}

// BoundingBoxMismatchError indicates a written point lies outside the
// declared header bounding box
type BoundingBoxMismatchError struct {
	Index   uint64
	X, Y, Z float64
	Bounds  Bounds
}

func (e *BoundingBoxMismatchError) Error() string {
	return fmt.Sprintf("point %d (%g, %g, %g) outside declared bounds [%g %g %g, %g %g %g]",
		e.Index, e.X, e.Y, e.Z,
		e.Bounds.MinX, e.Bounds.MinY, e.Bounds.MinZ,
		e.Bounds.MaxX, e.Bounds.MaxY, e.Bounds.MaxZ)
}
