// Package zstdgrpc registers a zstd compressor with gRPC. Clients opt in per
// call with grpc.UseCompressor(zstdgrpc.Name); servers answer in kind.
package zstdgrpc

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
)

const Name = "zstd"

type compressor struct {
	encoders sync.Pool
}

func init() {
	encoding.RegisterCompressor(newCompressor())
}

func newCompressor() *compressor {
	return &compressor{}
}

type pooledEncoder struct {
	*zstd.Encoder
	pool *sync.Pool
}

func (e *pooledEncoder) Close() error {
	err := e.Encoder.Close()
	e.pool.Put(e)
	return err
}

func (c *compressor) Compress(w io.Writer) (io.WriteCloser, error) {
	if enc, ok := c.encoders.Get().(*pooledEncoder); ok {
		enc.Reset(w)
		return enc, nil
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1), zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	return &pooledEncoder{Encoder: enc, pool: &c.encoders}, nil
}

type decodeReader struct {
	dec *zstd.Decoder
}

func (r *decodeReader) Read(p []byte) (int, error) {
	n, err := r.dec.Read(p)
	if err == io.EOF {
		r.dec.Close()
	}
	return n, err
}

func (c *compressor) Decompress(r io.Reader) (io.Reader, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &decodeReader{dec: dec}, nil
}

func (c *compressor) Name() string {
	return Name
}
