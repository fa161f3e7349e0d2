package compress

// NoOpCodec copies frames through unchanged.
type NoOpCodec struct{}

var _ Codec = NoOpCodec{}

// NewNoOpCodec creates a pass-through codec.
func NewNoOpCodec() NoOpCodec {
	return NoOpCodec{}
}

func (NoOpCodec) Compress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}

func (NoOpCodec) Decompress(data []byte, _ int) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}
