package resultstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/compcache/model"
)

// Blob layout, little endian:
//
//	uint32  magic
//	uint8   version
//	uint8   compression
//	[...]   payload (compressed per the compression byte)
//	uint32  crc32c over everything above
//
// The payload is a sequence of length-delimited fields:
// exit code, stdout, stderr, output count, then (path, data) per output.
const (
	blobMagic   uint32 = 0x43435245 // "CCRE"
	blobVersion uint8  = 1

	headerLen  = 6
	trailerLen = 4
)

// Compression selects the payload codec.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZstd
)

// String implements fmt.Stringer for config/log output.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression maps a config string to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("resultstore: unknown compression %q", s)
	}
}

var (
	// ErrCorrupt is returned by Decode for any blob that fails
	// structural or checksum validation. Callers treat it as a miss.
	ErrCorrupt = errors.New("resultstore: corrupt result blob")
	// ErrVersion is returned for well-formed blobs written by an
	// incompatible format version.
	ErrVersion = errors.New("resultstore: unsupported blob version")
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	zstdEncOnce.Do(func() {
		zstdEnc, _ = zstd.NewWriter(nil)
	})
	return zstdEnc
}

func zstdDecoder() *zstd.Decoder {
	zstdDecOnce.Do(func() {
		zstdDec, _ = zstd.NewReader(nil)
	})
	return zstdDec
}

// Encode serializes a CompileResult into a single blob.
func Encode(res *model.CompileResult, comp Compression) ([]byte, error) {
	var payload bytes.Buffer
	writeUint32(&payload, uint32(res.ExitCode))
	writeBytes(&payload, res.Stdout)
	writeBytes(&payload, res.Stderr)
	writeUint32(&payload, uint32(len(res.Outputs)))
	for _, out := range res.Outputs {
		writeBytes(&payload, []byte(out.Path))
		writeBytes(&payload, out.Data)
	}

	body := payload.Bytes()
	switch comp {
	case CompressionNone:
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		body = buf.Bytes()
	case CompressionZstd:
		body = zstdEncoder().EncodeAll(body, nil)
	default:
		return nil, fmt.Errorf("resultstore: unknown compression %d", comp)
	}

	blob := make([]byte, 0, headerLen+len(body)+trailerLen)
	blob = binary.LittleEndian.AppendUint32(blob, blobMagic)
	blob = append(blob, blobVersion, byte(comp))
	blob = append(blob, body...)
	blob = binary.LittleEndian.AppendUint32(blob, crc32.Checksum(blob, crc32cTable))
	return blob, nil
}

// Decode parses a blob produced by Encode. Any structural damage,
// including a checksum mismatch or truncation, yields ErrCorrupt.
func Decode(blob []byte) (*model.CompileResult, error) {
	if len(blob) < headerLen+trailerLen {
		return nil, ErrCorrupt
	}
	if binary.LittleEndian.Uint32(blob[0:4]) != blobMagic {
		return nil, ErrCorrupt
	}
	if blob[4] != blobVersion {
		return nil, ErrVersion
	}

	sum := binary.LittleEndian.Uint32(blob[len(blob)-trailerLen:])
	if crc32.Checksum(blob[:len(blob)-trailerLen], crc32cTable) != sum {
		return nil, ErrCorrupt
	}

	comp := Compression(blob[5])
	body := blob[headerLen : len(blob)-trailerLen]

	var err error
	switch comp {
	case CompressionNone:
	case CompressionLZ4:
		body, err = io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, ErrCorrupt
		}
	case CompressionZstd:
		body, err = zstdDecoder().DecodeAll(body, nil)
		if err != nil {
			return nil, ErrCorrupt
		}
	default:
		return nil, ErrCorrupt
	}

	r := &payloadReader{buf: body}
	res := &model.CompileResult{}
	res.ExitCode = int32(r.uint32())
	res.Stdout = r.bytes()
	res.Stderr = r.bytes()
	n := r.uint32()
	// Sanity bound before allocating: each output needs at least two
	// length prefixes in the remaining payload.
	if r.failed || uint64(n)*8 > uint64(len(body)) {
		return nil, ErrCorrupt
	}
	if n > 0 {
		res.Outputs = make([]model.Output, 0, n)
	}
	for i := uint32(0); i < n; i++ {
		path := r.bytes()
		data := r.bytes()
		if r.failed {
			return nil, ErrCorrupt
		}
		res.Outputs = append(res.Outputs, model.Output{Path: string(path), Data: data})
	}
	if r.failed || r.off != len(body) {
		return nil, ErrCorrupt
	}
	return res, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

// payloadReader decodes length-delimited fields, latching any
// out-of-bounds access into failed instead of panicking.
type payloadReader struct {
	buf    []byte
	off    int
	failed bool
}

func (r *payloadReader) uint32() uint32 {
	if r.failed || r.off+4 > len(r.buf) {
		r.failed = true
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *payloadReader) bytes() []byte {
	n := int(r.uint32())
	if r.failed || n < 0 || r.off+n > len(r.buf) {
		r.failed = true
		return nil
	}
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+n])
	r.off += n
	return out
}
