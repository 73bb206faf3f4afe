// Package codec compresses and decompresses container chunks.
//
// A codec is selected by an identifier of the form "name" or "name:level",
// e.g. "gzip", "gzip:9", "zstd:4", "brotli:11", "lz4", "s2", "none".
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var (
	// ErrUnknown is returned by Lookup for codec names we don't support
	ErrUnknown = errors.New("unknown codec")
	// ErrSizeMismatch is returned when decompressed data is not of expected size
	ErrSizeMismatch = errors.New("decompressed size mismatch")
)

const (
	// Default is the codec used when none is specified
	Default = "gzip"

	gzipDefaultLevel   = 4
	brotliDefaultLevel = 6
)

// Codec compresses a single chunk of data.
// Decompress must be given the exact uncompressed size.
type Codec interface {
	// Name returns canonical identifier, including level if not default
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, size int) ([]byte, error)
}

// Names returns names of all supported codecs
func Names() []string {
	return []string{"none", "gzip", "zstd", "s2", "brotli", "lz4"}
}

// parseID splits "name:level" into name and level. level is -1 if not given
func parseID(id string) (string, int, error) {
	name, levelStr, hasLevel := strings.Cut(strings.TrimSpace(id), ":")
	name = strings.ToLower(name)
	if name == "" {
		name = Default
	}
	if !hasLevel {
		return name, -1, nil
	}
	level, err := strconv.Atoi(levelStr)
	if err != nil {
		return "", 0, fmt.Errorf("codec '%s': invalid level '%s'", id, levelStr)
	}
	return name, level, nil
}

func checkLevel(name string, level, lo, hi int) error {
	if level < lo || level > hi {
		return fmt.Errorf("codec '%s': level %d out of range [%d, %d]", name, level, lo, hi)
	}
	return nil
}

var (
	codecsMu sync.Mutex
	// codecs are stateless (or safe for concurrent use) so we create each one once
	codecs = map[string]Codec{}
)

// Lookup returns a codec for a given identifier. Empty id means Default.
// Returned codecs are safe for concurrent use.
func Lookup(id string) (Codec, error) {
	codecsMu.Lock()
	defer codecsMu.Unlock()
	if c, ok := codecs[id]; ok {
		return c, nil
	}
	c, err := newCodec(id)
	if err != nil {
		return nil, err
	}
	codecs[id] = c
	return c, nil
}

func newCodec(id string) (Codec, error) {
	name, level, err := parseID(id)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(Names(), name) {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknown, id)
	}
	switch name {
	case "none":
		if level != -1 {
			return nil, fmt.Errorf("codec 'none' doesn't take a level")
		}
		return noneCodec{}, nil
	case "gzip":
		if level == -1 {
			level = gzipDefaultLevel
		}
		if err := checkLevel(name, level, gzip.BestSpeed, gzip.BestCompression); err != nil {
			return nil, err
		}
		return &gzipCodec{level: level}, nil
	case "zstd":
		if level == -1 {
			level = int(zstd.SpeedDefault)
		}
		if err := checkLevel(name, level, int(zstd.SpeedFastest), int(zstd.SpeedBestCompression)); err != nil {
			return nil, err
		}
		return newZstdCodec(level)
	case "s2":
		if level != -1 {
			return nil, fmt.Errorf("codec 's2' doesn't take a level")
		}
		return s2Codec{}, nil
	case "brotli":
		if level == -1 {
			level = brotliDefaultLevel
		}
		if err := checkLevel(name, level, brotli.BestSpeed, brotli.BestCompression); err != nil {
			return nil, err
		}
		return &brotliCodec{level: level}, nil
	case "lz4":
		if level != -1 {
			return nil, fmt.Errorf("codec 'lz4' doesn't take a level")
		}
		return lz4Codec{}, nil
	}
	return nil, fmt.Errorf("%w: '%s'", ErrUnknown, id)
}

func nameWithLevel(name string, level, defaultLevel int) string {
	if level == defaultLevel {
		return name
	}
	return name + ":" + strconv.Itoa(level)
}

func checkSize(d []byte, size int) ([]byte, error) {
	if len(d) != size {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrSizeMismatch, size, len(d))
	}
	return d, nil
}

func getErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// readAllLimited reads at most size+1 bytes so that checkSize can detect
// data that is too long without reading all of it
func readAllLimited(r io.Reader, size int) ([]byte, error) {
	d, err := io.ReadAll(io.LimitReader(r, int64(size)+1))
	if err != nil {
		return nil, err
	}
	return checkSize(d, size)
}

type noneCodec struct{}

func (noneCodec) Name() string { return "none" }

func (noneCodec) Compress(src []byte) ([]byte, error) {
	return slices.Clone(src), nil
}

func (noneCodec) Decompress(src []byte, size int) ([]byte, error) {
	return checkSize(slices.Clone(src), size)
}

type gzipCodec struct {
	level int
}

func (c *gzipCodec) Name() string {
	return nameWithLevel("gzip", c.level, gzipDefaultLevel)
}

func (c *gzipCodec) Compress(src []byte) ([]byte, error) {
	var dst bytes.Buffer
	w, err := gzip.NewWriterLevel(&dst, c.level)
	if err != nil {
		return nil, err
	}
	_, err = w.Write(src)
	err2 := w.Close()
	if err = getErr(err, err2); err != nil {
		return nil, err
	}
	return dst.Bytes(), nil
}

func (c *gzipCodec) Decompress(src []byte, size int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readAllLimited(r, size)
}

// zstd encoder and decoder are safe for concurrent EncodeAll / DecodeAll
type zstdCodec struct {
	level int
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

func newZstdCodec(level int) (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &zstdCodec{level: level, enc: enc, dec: dec}, nil
}

func (c *zstdCodec) Name() string {
	return nameWithLevel("zstd", c.level, int(zstd.SpeedDefault))
}

func (c *zstdCodec) Compress(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, nil), nil
}

func (c *zstdCodec) Decompress(src []byte, size int) ([]byte, error) {
	d, err := c.dec.DecodeAll(src, make([]byte, 0, size))
	if err != nil {
		return nil, err
	}
	return checkSize(d, size)
}

type s2Codec struct{}

func (s2Codec) Name() string { return "s2" }

func (s2Codec) Compress(src []byte) ([]byte, error) {
	return s2.Encode(nil, src), nil
}

func (s2Codec) Decompress(src []byte, size int) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, err
	}
	if n != size {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrSizeMismatch, size, n)
	}
	return s2.Decode(make([]byte, size), src)
}

type brotliCodec struct {
	level int
}

func (c *brotliCodec) Name() string {
	return nameWithLevel("brotli", c.level, brotliDefaultLevel)
}

func (c *brotliCodec) Compress(src []byte) ([]byte, error) {
	var dst bytes.Buffer
	w := brotli.NewWriterLevel(&dst, c.level)
	_, err := w.Write(src)
	err2 := w.Close()
	if err = getErr(err, err2); err != nil {
		return nil, err
	}
	return dst.Bytes(), nil
}

func (c *brotliCodec) Decompress(src []byte, size int) ([]byte, error) {
	return readAllLimited(brotli.NewReader(bytes.NewReader(src)), size)
}

// lz4 block format doesn't store uncompressed size and can't encode
// incompressible data so we prefix the block with a 1-byte marker
const (
	lz4Raw        byte = 0
	lz4Compressed byte = 1
)

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Compress(src []byte) ([]byte, error) {
	dst := make([]byte, 1+lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst[1:], nil)
	if err != nil {
		return nil, err
	}
	if n == 0 || n >= len(src) {
		dst = append(dst[:0], lz4Raw)
		return append(dst, src...), nil
	}
	dst[0] = lz4Compressed
	return dst[:1+n], nil
}

func (lz4Codec) Decompress(src []byte, size int) ([]byte, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("lz4: empty block")
	}
	switch src[0] {
	case lz4Raw:
		return checkSize(slices.Clone(src[1:]), size)
	case lz4Compressed:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(src[1:], dst)
		if err != nil {
			return nil, err
		}
		return checkSize(dst[:n], size)
	}
	return nil, fmt.Errorf("lz4: invalid block marker %d", src[0])
}
