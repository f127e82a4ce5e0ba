package codec

import (
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"

	"github.com/c360/offlinekit/errors"
)

// Compressor is a reversible byte transform.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Name() string
}

// Names of the built-in compressors.
const (
	NameZstd = "zstd"
	NameS2   = "s2"
	NameNone = "none"
)

// ByName returns the built-in compressor registered under name.
// An empty name selects zstd.
func ByName(name string) (Compressor, error) {
	switch strings.ToLower(name) {
	case "", NameZstd:
		return Zstd(), nil
	case NameS2:
		return S2(), nil
	case NameNone:
		return None(), nil
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "codec", "ByName",
			fmt.Sprintf("unknown compression %q", name))
	}
}

type zstdCompressor struct {
	once    sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	initErr error
}

var sharedZstd = &zstdCompressor{}

// Zstd returns the shared zstd compressor. EncodeAll and DecodeAll are safe for
// concurrent use, so one encoder/decoder pair serves the whole process.
func Zstd() Compressor {
	return sharedZstd
}

func (z *zstdCompressor) init() error {
	z.once.Do(func() {
		z.encoder, z.initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if z.initErr != nil {
			return
		}
		z.decoder, z.initErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return z.initErr
}

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	if err := z.init(); err != nil {
		return nil, &errors.RemoteError{Kind: errors.KindCompression, Err: err}
	}
	return z.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	if err := z.init(); err != nil {
		return nil, &errors.RemoteError{Kind: errors.KindDecompression, Err: err}
	}
	out, err := z.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, &errors.RemoteError{Kind: errors.KindDecompression, Err: err}
	}
	return out, nil
}

func (z *zstdCompressor) Name() string { return NameZstd }

type s2Compressor struct{}

// S2 returns the s2 (snappy-compatible) compressor.
func S2() Compressor {
	return s2Compressor{}
}

func (s2Compressor) Compress(data []byte) ([]byte, error) {
	return s2.Encode(nil, data), nil
}

func (s2Compressor) Decompress(data []byte) ([]byte, error) {
	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, &errors.RemoteError{Kind: errors.KindDecompression, Err: err}
	}
	return out, nil
}

func (s2Compressor) Name() string { return NameS2 }

type noneCompressor struct{}

// None returns the identity compressor.
func None() Compressor {
	return noneCompressor{}
}

func (noneCompressor) Compress(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

func (noneCompressor) Decompress(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

func (noneCompressor) Name() string { return NameNone }
