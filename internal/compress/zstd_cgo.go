//go:build cgo && gozstd

package compress

import (
	"github.com/valyala/gozstd"
)

const gozstdLevel = 3

func (ZstdCodec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	return gozstd.CompressLevel(nil, data, gozstdLevel), nil
}

func (ZstdCodec) Decompress(data []byte, rawSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var dst []byte
	if rawSize > 0 {
		dst = make([]byte, 0, rawSize)
	}

	return gozstd.Decompress(dst, data)
}
