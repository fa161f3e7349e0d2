package compress

import (
	"github.com/klauspost/compress/s2"
)

// S2Codec compresses frames with S2. It favours decode speed over ratio.
type S2Codec struct{}

var _ Codec = S2Codec{}

// NewS2Codec creates an S2 codec.
func NewS2Codec() S2Codec {
	return S2Codec{}
}

func (S2Codec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	return s2.Encode(nil, data), nil
}

func (S2Codec) Decompress(data []byte, rawSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var dst []byte
	if rawSize > 0 {
		dst = make([]byte, rawSize)
	}

	return s2.Decode(dst, data)
}
