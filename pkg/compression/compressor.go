// Package compression compresses byte slices and streams with codecs drawn from
// bounded pools.
//
// # Overview
//
// Encoders and decoders for gzip, deflate, zstd, lz4, snappy and s2 keep large internal
// state that is expensive to build. Each Compressor holds one pool.Pool per stateful
// codec, so concurrent callers reuse codec instances and the number alive at once is
// capped by Config.PoolLimit.
//
// # Algorithm Selection
//
//   - Snappy/S2: fastest, moderate ratio
//   - LZ4: very fast, decent ratio
//   - Zstd: best ratio at good speed
//   - Gzip/Deflate: widest compatibility
//
// # Basic Usage
//
//	c, err := compression.NewCompressor(compression.Config{Algorithm: compression.Zstd}, logger)
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	compressed, err := c.Compress(data)
//	original, err := c.Decompress(compressed)
package compression

import (
	"bytes"
	"io"
	"time"

	"github.com/fishy/errbatch"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncpool/pkg/errors"
	"github.com/ajitpratap0/syncpool/pkg/pool"
	"github.com/ajitpratap0/syncpool/pkg/syncx"
)

// Algorithm names a compression format
type Algorithm string

const (
	// None copies data unchanged
	None Algorithm = "none"
	// Gzip is RFC 1952 gzip
	Gzip Algorithm = "gzip"
	// Snappy is the snappy block and framing format
	Snappy Algorithm = "snappy"
	// LZ4 is the lz4 frame format
	LZ4 Algorithm = "lz4"
	// Zstd is zstandard
	Zstd Algorithm = "zstd"
	// S2 is the snappy-compatible s2 format
	S2 Algorithm = "s2"
	// Deflate is raw RFC 1951 deflate
	Deflate Algorithm = "deflate"
)

// Level trades speed for ratio
type Level int

const (
	// Fastest prioritizes speed over ratio
	Fastest Level = 1
	// Default balances speed and ratio
	Default Level = 5
	// Better favors ratio
	Better Level = 7
	// Best maximizes ratio
	Best Level = 9
)

// DefaultCodecBlock is how many codecs a pool creates per growth step
const DefaultCodecBlock = 8

// Compressor compresses and decompresses data. Implementations are safe for concurrent
// use. Close releases the pooled codecs; it waits for nothing, and codecs still checked
// out are destroyed as they come back.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	CompressStream(dst io.Writer, src io.Reader) error
	DecompressStream(dst io.Writer, src io.Reader) error

	Algorithm() Algorithm
	Level() Level

	Close() error
}

// Config configures a Compressor
type Config struct {
	Algorithm Algorithm
	Level     Level

	// PoolLimit caps live codecs per direction; pool.Unbounded or 0 for no cap
	PoolLimit int
	// AllocBlock is the codec pool growth step
	AllocBlock int
	// AcquireTimeout bounds the wait for a codec when the pool is at its limit
	AcquireTimeout time.Duration
	// MaxDecompressedSize rejects output larger than this many bytes; 0 disables the check
	MaxDecompressedSize int64
}

// DefaultConfig returns snappy at the default level with unbounded codec pools
func DefaultConfig() Config {
	return Config{
		Algorithm:      Snappy,
		Level:          Default,
		PoolLimit:      pool.Unbounded,
		AllocBlock:     DefaultCodecBlock,
		AcquireTimeout: syncx.Infinite,
	}
}

// NewCompressor creates a compressor for cfg.Algorithm. Zero fields of cfg take their
// DefaultConfig values.
func NewCompressor(cfg Config, l *zap.Logger) (Compressor, error) {
	def := DefaultConfig()
	if cfg.Algorithm == "" {
		cfg.Algorithm = def.Algorithm
	}
	if cfg.Level == 0 {
		cfg.Level = def.Level
	}
	if cfg.AllocBlock == 0 {
		cfg.AllocBlock = def.AllocBlock
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if l == nil {
		l = zap.NewNop()
	}

	b := &baseCompressor{cfg: cfg, logger: l.With(zap.String("algorithm", string(cfg.Algorithm)))}
	var (
		c   Compressor
		err error
	)
	switch cfg.Algorithm {
	case None:
		c = &noneCompressor{b}
	case Gzip:
		c, err = newGzipCompressor(b)
	case Deflate:
		c, err = newDeflateCompressor(b)
	case Zstd:
		c, err = newZstdCompressor(b)
	case LZ4:
		c, err = newLZ4Compressor(b)
	case Snappy:
		c, err = newSnappyCompressor(b)
	case S2:
		c, err = newS2Compressor(b)
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "unsupported compression algorithm: %s", cfg.Algorithm)
	}
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return c, nil
}

// baseCompressor owns the codec pools of a compressor
type baseCompressor struct {
	cfg    Config
	logger *zap.Logger
	pools  []io.Closer
}

func (b *baseCompressor) Algorithm() Algorithm { return b.cfg.Algorithm }

func (b *baseCompressor) Level() Level { return b.cfg.Level }

// Close closes every codec pool and reports all failures
func (b *baseCompressor) Close() error {
	batch := errbatch.NewErrBatch()
	for _, p := range b.pools {
		batch.Add(p.Close())
	}
	b.pools = nil
	return batch.Compile()
}

// newCodecPool creates a pool named "<algorithm>.<kind>" and ties it to b's lifetime
func newCodecPool[T any](b *baseCompressor, kind string, create func() T, destroy func(T)) (*pool.Pool[T], error) {
	p, err := pool.New[T](pool.Config{
		Name:       string(b.cfg.Algorithm) + "." + kind,
		Limit:      b.cfg.PoolLimit,
		AllocBlock: b.cfg.AllocBlock,
	}, pool.NewFuncAllocator(create, destroy), pool.WithLogger[T](b.logger))
	if err != nil {
		return nil, err
	}
	b.pools = append(b.pools, p)
	return p, nil
}

// withCodec runs fn with a codec checked out of p
func withCodec[T any](b *baseCompressor, p *pool.Pool[T], fn func(T) error) error {
	e, err := p.Acquire(b.cfg.AcquireTimeout, nil)
	if err != nil {
		return err
	}
	if e == nil {
		return errors.New(errors.ErrorTypeTimeout, "no codec available").WithComponent(p.Name())
	}
	err = fn(e.Value())
	if rerr := e.Release(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// copyOut copies the decompressed stream src to dst, enforcing MaxDecompressedSize
func (b *baseCompressor) copyOut(dst io.Writer, src io.Reader) error {
	limit := b.cfg.MaxDecompressedSize
	if limit <= 0 {
		_, err := io.Copy(dst, src)
		return err
	}
	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if err != nil {
		return err
	}
	if n > limit {
		return errors.Newf(errors.ErrorTypeValidation, "decompressed size exceeds %d bytes", limit).
			WithComponent(string(b.cfg.Algorithm))
	}
	return nil
}

// checkSize enforces MaxDecompressedSize on a block decode result
func (b *baseCompressor) checkSize(n int) error {
	if limit := b.cfg.MaxDecompressedSize; limit > 0 && int64(n) > limit {
		return errors.Newf(errors.ErrorTypeValidation, "decompressed size exceeds %d bytes", limit).
			WithComponent(string(b.cfg.Algorithm))
	}
	return nil
}

// must turns a codec constructor failure into a panic, which the pool reports as an
// allocation error
func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// None

type noneCompressor struct{ *baseCompressor }

func (nc *noneCompressor) Compress(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

func (nc *noneCompressor) Decompress(data []byte) ([]byte, error) {
	if err := nc.checkSize(len(data)); err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

func (nc *noneCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	return err
}

func (nc *noneCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	return nc.copyOut(dst, src)
}

// Gzip

type gzipCompressor struct {
	*baseCompressor
	writers *pool.Pool[*gzip.Writer]
	readers *pool.Pool[*gzip.Reader]
}

func newGzipCompressor(b *baseCompressor) (*gzipCompressor, error) {
	level := mapGzipLevel(b.cfg.Level)
	writers, err := newCodecPool(b, "writer",
		func() *gzip.Writer { return must(gzip.NewWriterLevel(io.Discard, level)) },
		func(w *gzip.Writer) { _ = w.Close() })
	if err != nil {
		return nil, err
	}
	readers, err := newCodecPool(b, "reader",
		func() *gzip.Reader { return new(gzip.Reader) },
		nil)
	if err != nil {
		return nil, err
	}
	return &gzipCompressor{baseCompressor: b, writers: writers, readers: readers}, nil
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := gc.CompressStream(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := gc.DecompressStream(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gc *gzipCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	return withCodec(gc.baseCompressor, gc.writers, func(w *gzip.Writer) error {
		w.Reset(dst)
		if _, err := io.Copy(w, src); err != nil {
			return err
		}
		return w.Close()
	})
}

func (gc *gzipCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	return withCodec(gc.baseCompressor, gc.readers, func(r *gzip.Reader) error {
		if err := r.Reset(src); err != nil {
			return err
		}
		return gc.copyOut(dst, r)
	})
}

// Deflate

type deflateCompressor struct {
	*baseCompressor
	writers *pool.Pool[*flate.Writer]
	readers *pool.Pool[io.ReadCloser]
}

func newDeflateCompressor(b *baseCompressor) (*deflateCompressor, error) {
	level := mapDeflateLevel(b.cfg.Level)
	writers, err := newCodecPool(b, "writer",
		func() *flate.Writer { return must(flate.NewWriter(io.Discard, level)) },
		func(w *flate.Writer) { _ = w.Close() })
	if err != nil {
		return nil, err
	}
	readers, err := newCodecPool(b, "reader",
		func() io.ReadCloser { return flate.NewReader(bytes.NewReader(nil)) },
		func(r io.ReadCloser) { _ = r.Close() })
	if err != nil {
		return nil, err
	}
	return &deflateCompressor{baseCompressor: b, writers: writers, readers: readers}, nil
}

func (dc *deflateCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := dc.CompressStream(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (dc *deflateCompressor) Decompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := dc.DecompressStream(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (dc *deflateCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	return withCodec(dc.baseCompressor, dc.writers, func(w *flate.Writer) error {
		w.Reset(dst)
		if _, err := io.Copy(w, src); err != nil {
			return err
		}
		return w.Close()
	})
}

func (dc *deflateCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	return withCodec(dc.baseCompressor, dc.readers, func(r io.ReadCloser) error {
		if err := r.(flate.Resetter).Reset(src, nil); err != nil {
			return err
		}
		return dc.copyOut(dst, r)
	})
}

// Zstd

type zstdCompressor struct {
	*baseCompressor
	encoders *pool.Pool[*zstd.Encoder]
	decoders *pool.Pool[*zstd.Decoder]
}

func newZstdCompressor(b *baseCompressor) (*zstdCompressor, error) {
	level := mapZstdLevel(b.cfg.Level)
	encoders, err := newCodecPool(b, "encoder",
		func() *zstd.Encoder {
			return must(zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1)))
		},
		func(e *zstd.Encoder) { _ = e.Close() })
	if err != nil {
		return nil, err
	}
	decoders, err := newCodecPool(b, "decoder",
		func() *zstd.Decoder { return must(zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))) },
		func(d *zstd.Decoder) { d.Close() })
	if err != nil {
		return nil, err
	}
	return &zstdCompressor{baseCompressor: b, encoders: encoders, decoders: decoders}, nil
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	var out []byte
	err := withCodec(zc.baseCompressor, zc.encoders, func(e *zstd.Encoder) error {
		out = e.EncodeAll(data, make([]byte, 0, len(data)/2))
		return nil
	})
	return out, err
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	var out []byte
	err := withCodec(zc.baseCompressor, zc.decoders, func(d *zstd.Decoder) error {
		var err error
		out, err = d.DecodeAll(data, nil)
		if err != nil {
			return err
		}
		return zc.checkSize(len(out))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (zc *zstdCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	return withCodec(zc.baseCompressor, zc.encoders, func(e *zstd.Encoder) error {
		e.Reset(dst)
		if _, err := io.Copy(e, src); err != nil {
			return err
		}
		return e.Close()
	})
}

func (zc *zstdCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	return withCodec(zc.baseCompressor, zc.decoders, func(d *zstd.Decoder) error {
		if err := d.Reset(src); err != nil {
			return err
		}
		return zc.copyOut(dst, d)
	})
}

// LZ4

type lz4Compressor struct {
	*baseCompressor
	writers *pool.Pool[*lz4.Writer]
	readers *pool.Pool[*lz4.Reader]
}

func newLZ4Compressor(b *baseCompressor) (*lz4Compressor, error) {
	level := mapLZ4Level(b.cfg.Level)
	writers, err := newCodecPool(b, "writer",
		func() *lz4.Writer {
			w := lz4.NewWriter(io.Discard)
			if err := w.Apply(lz4.CompressionLevelOption(level)); err != nil {
				panic(err)
			}
			return w
		},
		nil)
	if err != nil {
		return nil, err
	}
	readers, err := newCodecPool(b, "reader",
		func() *lz4.Reader { return lz4.NewReader(bytes.NewReader(nil)) },
		nil)
	if err != nil {
		return nil, err
	}
	return &lz4Compressor{baseCompressor: b, writers: writers, readers: readers}, nil
}

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := lc.CompressStream(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lc *lz4Compressor) Decompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := lc.DecompressStream(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lc *lz4Compressor) CompressStream(dst io.Writer, src io.Reader) error {
	return withCodec(lc.baseCompressor, lc.writers, func(w *lz4.Writer) error {
		w.Reset(dst)
		if _, err := io.Copy(w, src); err != nil {
			return err
		}
		return w.Close()
	})
}

func (lc *lz4Compressor) DecompressStream(dst io.Writer, src io.Reader) error {
	return withCodec(lc.baseCompressor, lc.readers, func(r *lz4.Reader) error {
		r.Reset(src)
		return lc.copyOut(dst, r)
	})
}

// Snappy: block calls are stateless, the framing writer and reader are pooled

type snappyCompressor struct {
	*baseCompressor
	writers *pool.Pool[*snappy.Writer]
	readers *pool.Pool[*snappy.Reader]
}

func newSnappyCompressor(b *baseCompressor) (*snappyCompressor, error) {
	writers, err := newCodecPool(b, "writer",
		func() *snappy.Writer { return snappy.NewBufferedWriter(io.Discard) },
		func(w *snappy.Writer) { _ = w.Close() })
	if err != nil {
		return nil, err
	}
	readers, err := newCodecPool(b, "reader",
		func() *snappy.Reader { return snappy.NewReader(bytes.NewReader(nil)) },
		nil)
	if err != nil {
		return nil, err
	}
	return &snappyCompressor{baseCompressor: b, writers: writers, readers: readers}, nil
}

func (sc *snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (sc *snappyCompressor) Decompress(data []byte) ([]byte, error) {
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, err
	}
	if err := sc.checkSize(n); err != nil {
		return nil, err
	}
	return snappy.Decode(nil, data)
}

func (sc *snappyCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	return withCodec(sc.baseCompressor, sc.writers, func(w *snappy.Writer) error {
		w.Reset(dst)
		if _, err := io.Copy(w, src); err != nil {
			return err
		}
		return w.Close()
	})
}

func (sc *snappyCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	return withCodec(sc.baseCompressor, sc.readers, func(r *snappy.Reader) error {
		r.Reset(src)
		return sc.copyOut(dst, r)
	})
}

// S2

type s2Compressor struct {
	*baseCompressor
	writers *pool.Pool[*s2.Writer]
	readers *pool.Pool[*s2.Reader]
}

func newS2Compressor(b *baseCompressor) (*s2Compressor, error) {
	writers, err := newCodecPool(b, "writer",
		func() *s2.Writer { return s2.NewWriter(io.Discard, s2.WriterConcurrency(1)) },
		func(w *s2.Writer) { _ = w.Close() })
	if err != nil {
		return nil, err
	}
	readers, err := newCodecPool(b, "reader",
		func() *s2.Reader { return s2.NewReader(bytes.NewReader(nil)) },
		nil)
	if err != nil {
		return nil, err
	}
	return &s2Compressor{baseCompressor: b, writers: writers, readers: readers}, nil
}

func (sc *s2Compressor) Compress(data []byte) ([]byte, error) {
	if sc.cfg.Level >= Better {
		return s2.EncodeBetter(nil, data), nil
	}
	return s2.Encode(nil, data), nil
}

func (sc *s2Compressor) Decompress(data []byte) ([]byte, error) {
	n, err := s2.DecodedLen(data)
	if err != nil {
		return nil, err
	}
	if err := sc.checkSize(n); err != nil {
		return nil, err
	}
	return s2.Decode(nil, data)
}

func (sc *s2Compressor) CompressStream(dst io.Writer, src io.Reader) error {
	return withCodec(sc.baseCompressor, sc.writers, func(w *s2.Writer) error {
		w.Reset(dst)
		if _, err := io.Copy(w, src); err != nil {
			return err
		}
		return w.Close()
	})
}

func (sc *s2Compressor) DecompressStream(dst io.Writer, src io.Reader) error {
	return withCodec(sc.baseCompressor, sc.readers, func(r *s2.Reader) error {
		r.Reset(src)
		return sc.copyOut(dst, r)
	})
}

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapDeflateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
