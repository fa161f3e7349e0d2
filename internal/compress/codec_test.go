package compress

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func framePayload(n int) []byte {
	// records with slowly varying coordinates compress well
	buf := make([]byte, 0, n*20)
	for i := 0; i < n; i++ {
		rec := make([]byte, 20)
		rec[0] = byte(i)
		rec[1] = byte(i >> 8)
		rec[4] = byte(i / 3)
		rec[8] = 0x10
		rec[12] = byte(i % 7)
		buf = append(buf, rec...)
	}

	return buf
}

func TestBuiltinCodecsRoundTrip(t *testing.T) {
	random := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(random)

	inputs := map[string][]byte{
		"records": framePayload(1000),
		"random":  random,
		"single":  {0x42},
	}

	for _, id := range []ID{None, Zstd, S2, LZ4} {
		codec, err := Get(id)
		require.NoError(t, err)

		for name, in := range inputs {
			t.Run(id.String()+"/"+name, func(t *testing.T) {
				packed, err := codec.Compress(in)
				require.NoError(t, err)

				out, err := codec.Decompress(packed, len(in))
				require.NoError(t, err)
				require.True(t, bytes.Equal(in, out))

				out, err = codec.Decompress(packed, 0)
				require.NoError(t, err)
				require.True(t, bytes.Equal(in, out))
			})
		}
	}
}

func TestCompressionShrinksRecords(t *testing.T) {
	in := framePayload(5000)
	for _, id := range []ID{Zstd, S2, LZ4} {
		codec, err := Get(id)
		require.NoError(t, err)

		packed, err := codec.Compress(in)
		require.NoError(t, err)
		require.Less(t, len(packed), len(in), id.String())
	}
}

func TestEmptyInput(t *testing.T) {
	for _, id := range []ID{Zstd, S2, LZ4} {
		codec, err := Get(id)
		require.NoError(t, err)

		packed, err := codec.Compress(nil)
		require.NoError(t, err)
		require.Empty(t, packed)

		out, err := codec.Decompress(nil, 0)
		require.NoError(t, err)
		require.Empty(t, out)
	}
}

func TestLZ4RejectsUnknownMarker(t *testing.T) {
	_, err := NewLZ4Codec().Decompress([]byte{9, 1, 2, 3}, 3)
	require.Error(t, err)
}

type xorCodec struct{ key byte }

func (c xorCodec) Compress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ c.key
	}
	return out, nil
}

func (c xorCodec) Decompress(data []byte, _ int) ([]byte, error) {
	return c.Compress(data)
}

func TestRegisterCustomCodec(t *testing.T) {
	const id ID = 0x40
	require.NoError(t, Register(id, "xor", xorCodec{key: 0x5a}))

	got, err := Parse("xor")
	require.NoError(t, err)
	require.Equal(t, id, got)
	require.Equal(t, "xor", id.String())
	require.Contains(t, Registered(), id)

	codec, err := Get(id)
	require.NoError(t, err)
	packed, err := codec.Compress([]byte("lidar"))
	require.NoError(t, err)
	out, err := codec.Decompress(packed, 5)
	require.NoError(t, err)
	require.Equal(t, "lidar", string(out))
}

func TestRegisterRejectsInvalid(t *testing.T) {
	require.Error(t, Register(0, "zero", NewNoOpCodec()))
	require.Error(t, Register(0x41, "nil", nil))
}

func TestGetUnknown(t *testing.T) {
	_, err := Get(0x7f)
	require.ErrorContains(t, err, "unsupported compression codec")

	_, err = Parse("brotli")
	require.Error(t, err)
}

func TestCodecsConcurrentUse(t *testing.T) {
	in := framePayload(2000)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, id := range []ID{Zstd, S2, LZ4} {
				codec, _ := Get(id)
				packed, err := codec.Compress(in)
				if err != nil {
					t.Error(err)
					return
				}
				out, err := codec.Decompress(packed, len(in))
				if err != nil || !bytes.Equal(in, out) {
					t.Errorf("%s: concurrent round trip failed: %v", id, err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func BenchmarkZstdCompress(b *testing.B) {
	in := framePayload(10000)
	codec := NewZstdCodec()
	b.SetBytes(int64(len(in)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = codec.Compress(in)
	}
}
