package compress

import (
	"errors"
	"sync"

	"github.com/pierrec/lz4/v4"
)

var lz4CompressorPool = sync.Pool{
	New: func() any {
		return &lz4.Compressor{}
	},
}

// maxLZ4Frame bounds the buffer grown while decoding a frame whose raw size
// is unknown.
const maxLZ4Frame = 128 * 1024 * 1024

// Block markers. lz4 reports incompressible input by writing nothing, so
// such frames are stored raw behind a marker byte.
const (
	lz4Stored     byte = 0
	lz4Compressed byte = 1
)

// LZ4Codec compresses frames with LZ4 block compression.
type LZ4Codec struct{}

var _ Codec = LZ4Codec{}

// NewLZ4Codec creates an LZ4 codec.
func NewLZ4Codec() LZ4Codec {
	return LZ4Codec{}
}

func (LZ4Codec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	dst := make([]byte, 1+lz4.CompressBlockBound(len(data)))

	lc, _ := lz4CompressorPool.Get().(*lz4.Compressor)
	defer lz4CompressorPool.Put(lc)

	n, err := lc.CompressBlock(data, dst[1:])
	if err != nil {
		return nil, err
	}
	if n == 0 || n >= len(data) {
		out := make([]byte, 1+len(data))
		out[0] = lz4Stored
		copy(out[1:], data)
		return out, nil
	}

	dst[0] = lz4Compressed
	return dst[:1+n], nil
}

// Decompress decodes into a buffer of rawSize bytes. When rawSize is not
// known it starts at 4x the input and doubles on short-buffer errors.
func (LZ4Codec) Decompress(data []byte, rawSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	marker, block := data[0], data[1:]
	switch marker {
	case lz4Stored:
		out := make([]byte, len(block))
		copy(out, block)
		return out, nil
	case lz4Compressed:
	default:
		return nil, errors.New("lz4: unknown block marker")
	}

	if rawSize > 0 {
		buf := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(block, buf)
		if err != nil {
			return nil, err
		}

		return buf[:n], nil
	}

	for size := len(block) * 4; size <= maxLZ4Frame; size *= 2 {
		buf := make([]byte, size)
		n, err := lz4.UncompressBlock(block, buf)
		if err == nil {
			return buf[:n], nil
		}
		if !errors.Is(err, lz4.ErrInvalidSourceShortBuffer) {
			return nil, err
		}
	}

	return nil, lz4.ErrInvalidSourceShortBuffer
}
