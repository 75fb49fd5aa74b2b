package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression is the closed set of chunk compression modes.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionFast
	CompressionBalanced
	CompressionMax
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionFast:
		return "fast"
	case CompressionBalanced:
		return "balanced"
	case CompressionMax:
		return "max"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// ParseCompression accepts the mode names plus the codec aliases used by
// presets: "lz4" is fast, "zstd" and "blosc" are balanced.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "raw", "":
		return CompressionNone, nil
	case "fast", "lz4":
		return CompressionFast, nil
	case "balanced", "zstd", "blosc":
		return CompressionBalanced, nil
	case "max":
		return CompressionMax, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// Compressor is the .zarray "compressor" object.
type Compressor struct {
	ID           string `json:"id"`
	Level        *int   `json:"level,omitempty"`
	Acceleration *int   `json:"acceleration,omitempty"`
}

// Codec compresses and decompresses whole chunks.
type Codec interface {
	Encode(raw []byte) ([]byte, error)
	Decode(data []byte, size int) ([]byte, error)
	// Config returns the compressor entry for .zarray; nil means uncompressed.
	Config() *Compressor
}

// NewCodec returns the writer codec for a mode and strength (1-9). zstd
// records the nominal level but encodes with one of four encoder speeds
// (levels 1-2, 3-5, 6-9 and 10+).
func NewCodec(mode Compression, strength int) (Codec, error) {
	if strength < 1 || strength > 9 {
		return nil, fmt.Errorf("compression strength must be 1-9, got %d", strength)
	}
	switch mode {
	case CompressionNone:
		return rawCodec{}, nil
	case CompressionFast:
		return lz4Codec{level: strength}, nil
	case CompressionBalanced:
		return newZstdCodec(strength)
	case CompressionMax:
		return newZstdCodec(10 + strength)
	default:
		return nil, fmt.Errorf("unsupported compression: %v", mode)
	}
}

// CodecFor returns the reader codec described by a .zarray compressor entry.
func CodecFor(c *Compressor) (Codec, error) {
	if c == nil {
		return rawCodec{}, nil
	}
	level := 0
	if c.Level != nil {
		level = *c.Level
	}
	switch c.ID {
	case "zstd":
		return newZstdCodec(max(level, 1))
	case "lz4":
		return lz4Codec{level: 1}, nil
	case "zlib":
		return flateCodec{id: "zlib", level: level}, nil
	case "gzip":
		return flateCodec{id: "gzip", level: level}, nil
	default:
		return nil, fmt.Errorf("unsupported zarr compressor %q", c.ID)
	}
}

type rawCodec struct{}

func (rawCodec) Encode(raw []byte) ([]byte, error) { return raw, nil }

func (rawCodec) Decode(data []byte, size int) ([]byte, error) {
	if size >= 0 && len(data) != size {
		return nil, fmt.Errorf("raw chunk: size %d does not match expected %d", len(data), size)
	}
	return data, nil
}

func (rawCodec) Config() *Compressor { return nil }

// lz4Codec writes numcodecs LZ4 framing: a little-endian uint32 holding the
// decoded size, followed by one LZ4 block.
type lz4Codec struct {
	level int
}

var lz4Levels = []lz4.CompressionLevel{
	lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4, lz4.Level5,
	lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

func (c lz4Codec) Encode(raw []byte) ([]byte, error) {
	dst := make([]byte, 4+lz4.CompressBlockBound(len(raw)))
	binary.LittleEndian.PutUint32(dst, uint32(len(raw)))

	var written int
	var err error
	if c.level <= 1 {
		written, err = lz4.CompressBlock(raw, dst[4:], nil)
	} else {
		written, err = lz4.CompressBlockHC(raw, dst[4:], lz4Levels[c.level-1], nil, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 {
		// Incompressible input still needs a valid block.
		return append(dst[:4], literalBlock(raw)...), nil
	}
	return dst[:4+written], nil
}

func (c lz4Codec) Decode(data []byte, size int) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("lz4 decompress: truncated header")
	}
	n := int(binary.LittleEndian.Uint32(data))
	if size >= 0 && n != size {
		return nil, fmt.Errorf("lz4 decompress: header says %d bytes, expected %d", n, size)
	}
	out := make([]byte, n)
	read, err := lz4.UncompressBlock(data[4:], out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != n {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, n)
	}
	return out, nil
}

func (c lz4Codec) Config() *Compressor {
	accel := 1
	return &Compressor{ID: "lz4", Acceleration: &accel}
}

// literalBlock encodes src as a single literal-only LZ4 sequence.
func literalBlock(src []byte) []byte {
	n := len(src)
	out := make([]byte, 0, n+n/255+2)
	if n < 15 {
		out = append(out, byte(n<<4))
	} else {
		out = append(out, 0xF0)
		rest := n - 15
		for rest >= 255 {
			out = append(out, 255)
			rest -= 255
		}
		out = append(out, byte(rest))
	}
	return append(out, src...)
}

// zstd encoders are safe for concurrent use and costly to build, so one is
// shared per level.
var (
	zstdMu       sync.Mutex
	zstdEncoders = map[int]*zstd.Encoder{}
	zstdDecoder  *zstd.Decoder
)

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("zarr: zstd decoder initialization failed: " + err.Error())
	}
}

type zstdCodec struct {
	level int
	enc   *zstd.Encoder
}

func newZstdCodec(level int) (zstdCodec, error) {
	zstdMu.Lock()
	defer zstdMu.Unlock()
	if enc, ok := zstdEncoders[level]; ok {
		return zstdCodec{level: level, enc: enc}, nil
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderCRC(false),
	)
	if err != nil {
		return zstdCodec{}, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	zstdEncoders[level] = enc
	return zstdCodec{level: level, enc: enc}, nil
}

func (c zstdCodec) Encode(raw []byte) ([]byte, error) {
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (c zstdCodec) Decode(data []byte, size int) ([]byte, error) {
	capHint := 0
	if size > 0 {
		capHint = size
	}
	out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, capHint))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress failed: %w", err)
	}
	if size >= 0 && len(out) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
	}
	return out, nil
}

func (c zstdCodec) Config() *Compressor {
	level := c.level
	return &Compressor{ID: "zstd", Level: &level}
}

// flateCodec handles zlib and gzip chunks written by other tools.
type flateCodec struct {
	id    string
	level int
}

func (c flateCodec) Encode(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	level := c.level
	if level == 0 {
		level = zlib.DefaultCompression
	}
	var w io.WriteCloser
	var err error
	if c.id == "gzip" {
		w, err = gzip.NewWriterLevel(&buf, level)
	} else {
		w, err = zlib.NewWriterLevel(&buf, level)
	}
	if err != nil {
		return nil, fmt.Errorf("%s compress: %w", c.id, err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("%s compress: %w", c.id, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s compress: %w", c.id, err)
	}
	return buf.Bytes(), nil
}

func (c flateCodec) Decode(data []byte, size int) ([]byte, error) {
	var r io.ReadCloser
	var err error
	if c.id == "gzip" {
		r, err = gzip.NewReader(bytes.NewReader(data))
	} else {
		r, err = zlib.NewReader(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", c.id, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", c.id, err)
	}
	if size >= 0 && len(out) != size {
		return nil, fmt.Errorf("%s decompress: got %d bytes, expected %d", c.id, len(out), size)
	}
	return out, nil
}

func (c flateCodec) Config() *Compressor {
	level := c.level
	return &Compressor{ID: c.id, Level: &level}
}
