// Package compress provides the pluggable codecs used for compressed point
// payloads. A codec is selected by the id stored in the lascat VLR of a file.
package compress

import (
	"fmt"
	"sort"
	"sync"
)

// ID identifies a payload codec inside a file.
type ID uint8

const (
	// None stores frames uncompressed.
	None ID = 0x1
	// Zstd uses Zstandard.
	Zstd ID = 0x2
	// S2 uses klauspost S2, a Snappy extension.
	S2 ID = 0x3
	// LZ4 uses LZ4 block compression.
	LZ4 ID = 0x4
)

func (id ID) String() string {
	switch id {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case S2:
		return "s2"
	case LZ4:
		return "lz4"
	}

	mu.RLock()
	name, ok := names[id]
	mu.RUnlock()
	if ok {
		return name
	}

	return fmt.Sprintf("codec(%d)", uint8(id))
}

// Codec compresses and decompresses one frame of point records.
//
// Implementations must be safe for concurrent use; the catalog engine decodes
// several files at once through the same codec.
type Codec interface {
	// Compress returns a newly allocated compressed copy of data.
	Compress(data []byte) ([]byte, error)

	// Decompress returns the original bytes. rawSize is the uncompressed
	// length recorded in the frame header and may be used to size buffers.
	Decompress(data []byte, rawSize int) ([]byte, error)
}

var (
	mu       sync.RWMutex
	registry = map[ID]Codec{
		None: NewNoOpCodec(),
		Zstd: NewZstdCodec(),
		S2:   NewS2Codec(),
		LZ4:  NewLZ4Codec(),
	}
	names = map[ID]string{}
)

// Register installs a codec under id, replacing any previous codec with the
// same id. Built-in ids may be overridden.
func Register(id ID, name string, c Codec) error {
	if id == 0 {
		return fmt.Errorf("codec id 0 is reserved")
	}
	if c == nil {
		return fmt.Errorf("codec %d: nil codec", id)
	}

	mu.Lock()
	defer mu.Unlock()
	registry[id] = c
	if name != "" {
		names[id] = name
	}

	return nil
}

// Get returns the codec registered under id.
func Get(id ID) (Codec, error) {
	mu.RLock()
	defer mu.RUnlock()

	if c, ok := registry[id]; ok {
		return c, nil
	}

	return nil, fmt.Errorf("unsupported compression codec: %s", id)
}

// Parse maps a codec name such as "zstd" to its id.
func Parse(name string) (ID, error) {
	switch name {
	case "", "none":
		return None, nil
	case "zstd":
		return Zstd, nil
	case "s2":
		return S2, nil
	case "lz4":
		return LZ4, nil
	}

	mu.RLock()
	defer mu.RUnlock()
	for id, n := range names {
		if n == name {
			return id, nil
		}
	}

	return 0, fmt.Errorf("unknown compression codec %q", name)
}

// Registered lists the ids of every available codec in ascending order.
func Registered() []ID {
	mu.RLock()
	ids := make([]ID, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}
