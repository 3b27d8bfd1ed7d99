// Package compress backs DiskDataHdr.CmprAlg with a real codec: zstd via
// github.com/klauspost/compress/zstd, behind a pair of pooled
// encoder/decoder instances shared by every block write and read.
package compress

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/flashtsdb/tsdbfile/codec"
)

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	encoderErr  error

	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

func getEncoder() (*zstd.Encoder, error) {
	encoderOnce.Do(func() {
		encoder, encoderErr = zstd.NewWriter(nil)
	})
	return encoder, encoderErr
}

func getDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil)
	})
	return decoder, decoderErr
}

// Encode compresses src according to alg, appending to an internally
// allocated buffer. alg == codec.CmprNone returns src unchanged (no copy).
func Encode(alg uint8, src []byte) ([]byte, error) {
	switch alg {
	case codec.CmprNone:
		return src, nil
	case codec.CmprZstd:
		enc, err := getEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(src, make([]byte, 0, len(src))), nil
	default:
		return nil, fmt.Errorf("compress: unknown CmprAlg %d", alg)
	}
}

// Decode reverses Encode. dstSize is the expected decompressed length,
// used to presize the output buffer.
func Decode(alg uint8, src []byte, dstSize int) ([]byte, error) {
	switch alg {
	case codec.CmprNone:
		out := make([]byte, len(src))
		copy(out, src)
		return out, nil
	case codec.CmprZstd:
		dec, err := getDecoder()
		if err != nil {
			return nil, err
		}
		out, err := dec.DecodeAll(src, make([]byte, 0, dstSize))
		if err != nil {
			return nil, fmt.Errorf("compress: zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("compress: unknown CmprAlg %d", alg)
	}
}

// EqualAfterRoundTrip is a test helper asserting Decode(Encode(alg, src))
// reproduces src exactly.
func EqualAfterRoundTrip(alg uint8, src []byte) (bool, error) {
	enc, err := Encode(alg, src)
	if err != nil {
		return false, err
	}
	dec, err := Decode(alg, enc, len(src))
	if err != nil {
		return false, err
	}
	return bytes.Equal(dec, src), nil
}
