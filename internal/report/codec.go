package report

import (
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec is the compression of report part files.
type Codec string

const (
	CodecNone   Codec = "none"
	CodecGzip   Codec = "gzip"
	CodecZstd   Codec = "zstd"
	CodecLZ4    Codec = "lz4"
	CodecSnappy Codec = "snappy"
)

var codecExtensions = map[Codec]string{
	CodecNone:   "",
	CodecGzip:   ".gz",
	CodecZstd:   ".zst",
	CodecLZ4:    ".lz4",
	CodecSnappy: ".snappy",
}

// ParseCodec parses a codec name. The empty string means CodecNone.
func ParseCodec(s string) (Codec, error) {
	if s == "" {
		return CodecNone, nil
	}
	c := Codec(s)
	if _, ok := codecExtensions[c]; !ok {
		return "", fmt.Errorf("report: unknown codec %q", s)
	}
	return c, nil
}

// Extension returns the file name suffix of the codec.
func (c Codec) Extension() string {
	return codecExtensions[c]
}

// ContentType returns the object content type of a part in this codec.
func (c Codec) ContentType() string {
	switch c {
	case CodecGzip:
		return "application/gzip"
	case CodecZstd:
		return "application/zstd"
	case CodecNone:
		return "text/tab-separated-values"
	default:
		return "application/octet-stream"
	}
}

func codecForExtension(ext string) (Codec, bool) {
	for c, e := range codecExtensions {
		if e == ext {
			return c, true
		}
	}
	return "", false
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// NewCompressor wraps w so that writes are compressed with the codec. Close
// flushes the compressed stream but does not close w.
func (c Codec) NewCompressor(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecNone, "":
		return nopWriteCloser{w}, nil
	case CodecGzip:
		return gzip.NewWriter(w), nil
	case CodecZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("report: zstd writer: %w", err)
		}
		return enc, nil
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	case CodecSnappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, fmt.Errorf("report: unknown codec %q", c)
	}
}

// NewDecompressor wraps r so that reads return decompressed data.
func (c Codec) NewDecompressor(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CodecNone, "":
		return io.NopCloser(r), nil
	case CodecGzip:
		reader, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return reader, nil
	case CodecZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return decoder.IOReadCloser(), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CodecSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("report: unknown codec %q", c)
	}
}
