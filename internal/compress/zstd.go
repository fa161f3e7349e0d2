package compress

// ZstdCodec compresses frames with Zstandard. The implementation is the
// pure-Go klauspost encoder by default and libzstd through gozstd when built
// with cgo and the gozstd tag.
type ZstdCodec struct{}

var _ Codec = ZstdCodec{}

// NewZstdCodec creates a Zstandard codec.
func NewZstdCodec() ZstdCodec {
	return ZstdCodec{}
}
