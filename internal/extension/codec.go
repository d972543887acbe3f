package extension

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/nerrad567/litecore/internal/sqlval"
)

// maxDecompressedSize bounds the output of the decompression functions
// (the engine's default SQLITE_MAX_LENGTH).
const maxDecompressedSize = 1_000_000_000

// lz4 payload layout: one format byte, the uvarint decompressed length, then
// the body. Incompressible input is stored raw.
const (
	lz4Stored byte = 0
	lz4Block  byte = 1
)

// zstdEncoder and zstdDecoder are shared by every connection. Both are safe
// for concurrent use through EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("extension: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecompressedSize))
	if err != nil {
		panic("extension: zstd decoder initialization failed: " + err.Error())
	}
}

// CompressZstd returns the zstd frame for data.
func CompressZstd(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// DecompressZstd decodes one or more zstd frames.
func DecompressZstd(frame []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(frame, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

// CompressLZ4 returns data in the lz4 payload layout.
func CompressLZ4(data []byte) ([]byte, error) {
	header := make([]byte, 1+binary.MaxVarintLen64)
	n := binary.PutUvarint(header[1:], uint64(len(data)))
	header = header[:1+n]

	body := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, body, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		header[0] = lz4Stored
		return append(header, data...), nil
	}
	header[0] = lz4Block
	return append(header, body[:written]...), nil
}

// DecompressLZ4 reverses CompressLZ4.
func DecompressLZ4(payload []byte) ([]byte, error) {
	if len(payload) < 2 {
		return nil, errors.New("lz4 decompress: payload too short")
	}
	size, n := binary.Uvarint(payload[1:])
	if n <= 0 {
		return nil, errors.New("lz4 decompress: bad length header")
	}
	if size > maxDecompressedSize {
		return nil, fmt.Errorf("lz4 decompress: declared size %d exceeds limit", size)
	}
	body := payload[1+n:]

	switch payload[0] {
	case lz4Stored:
		if uint64(len(body)) != size {
			return nil, fmt.Errorf("lz4 decompress: stored size %d, header says %d", len(body), size)
		}
		return append([]byte(nil), body...), nil
	case lz4Block:
		out := make([]byte, size)
		read, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("lz4 decompress: unknown format byte %d", payload[0])
	}
}

// bytesFunc lifts a []byte transform into a one-argument SQL function that
// returns NULL for NULL and a BLOB otherwise.
func bytesFunc(fn func([]byte) ([]byte, error)) ScalarFunc {
	return func(args []sqlval.Value) (sqlval.Value, error) {
		data, ok := args[0].Bytes()
		if !ok {
			return sqlval.Null(), nil
		}
		out, err := fn(data)
		if err != nil {
			return sqlval.Null(), err
		}
		return sqlval.Blob(out), nil
	}
}

func base64Encode(args []sqlval.Value) (sqlval.Value, error) {
	data, ok := args[0].Bytes()
	if !ok {
		return sqlval.Null(), nil
	}
	return sqlval.Text(base64.StdEncoding.EncodeToString(data)), nil
}

func base64Decode(args []sqlval.Value) (sqlval.Value, error) {
	s, ok := args[0].Text()
	if !ok {
		return sqlval.Null(), nil
	}
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return sqlval.Null(), fmt.Errorf("invalid base64: %w", err)
	}
	return sqlval.Blob(out), nil
}

func codecFunctions() []Descriptor {
	return []Descriptor{
		{Name: "zstd_compress", Arity: 1, Deterministic: true, Scalar: bytesFunc(func(b []byte) ([]byte, error) { return CompressZstd(b), nil })},
		{Name: "zstd_decompress", Arity: 1, Deterministic: true, Scalar: bytesFunc(DecompressZstd)},
		{Name: "lz4_compress", Arity: 1, Deterministic: true, Scalar: bytesFunc(CompressLZ4)},
		{Name: "lz4_decompress", Arity: 1, Deterministic: true, Scalar: bytesFunc(DecompressLZ4)},
		{Name: "base64_encode", Arity: 1, Deterministic: true, Scalar: base64Encode},
		{Name: "base64_decode", Arity: 1, Deterministic: true, Scalar: base64Decode},
	}
}
