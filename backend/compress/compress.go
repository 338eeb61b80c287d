// Package compress frames blob content with a one-byte algorithm tag so
// stores can decode values written under a different configuration.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type Algorithm uint8

const (
	None Algorithm = 0
	LZ4  Algorithm = 1
	Zstd Algorithm = 2
)

var errIncompressible = errors.New("compress: data is incompressible")

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// Parse converts a configured algorithm name. An empty name selects None.
func Parse(name string) (Algorithm, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("unknown compression algorithm: %q", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode compresses content and prepends the tag and the uncompressed size.
// Content that does not shrink is stored with the None tag.
func Encode(content []byte, algorithm Algorithm) ([]byte, error) {
	payload := content
	tag := algorithm

	switch algorithm {
	case None:
	case LZ4:
		compressed, err := compressLZ4(content)
		if errors.Is(err, errIncompressible) {
			tag = None
		} else if err != nil {
			return nil, err
		} else {
			payload = compressed
		}
	case Zstd:
		compressed := zstdEncoder.EncodeAll(content, nil)
		if len(compressed) >= len(content) {
			tag = None
		} else {
			payload = compressed
		}
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %d", algorithm)
	}

	header := make([]byte, 1, 1+binary.MaxVarintLen64+len(payload))
	header[0] = byte(tag)
	header = binary.AppendUvarint(header, uint64(len(content)))

	return append(header, payload...), nil
}

// Decode reverses Encode regardless of the algorithm that was configured on write.
func Decode(framed []byte) ([]byte, error) {
	if len(framed) < 2 {
		return nil, fmt.Errorf("compress: frame too short (%d bytes)", len(framed))
	}

	tag := Algorithm(framed[0])
	size, n := binary.Uvarint(framed[1:])
	if n <= 0 {
		return nil, fmt.Errorf("compress: invalid size header")
	}
	payload := framed[1+n:]

	switch tag {
	case None:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("compress: size %d does not match expected %d", len(payload), size)
		}
		return payload, nil
	case LZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil
	case Zstd:
		decoded, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(decoded)) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(decoded), size)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("compress: unsupported tag %d", tag)
	}
}

func compressLZ4(content []byte) ([]byte, error) {
	if len(content) == 0 {
		return nil, errIncompressible
	}

	destination := make([]byte, lz4.CompressBlockBound(len(content)))
	written, err := lz4.CompressBlock(content, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(content) {
		return nil, errIncompressible
	}

	return destination[:written], nil
}
