// Package json encodes JSON with goccy/go-json into buffers drawn from a pool.Pool
package json

import (
	"bytes"
	"io"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncpool/pkg/errors"
	"github.com/ajitpratap0/syncpool/pkg/pool"
	"github.com/ajitpratap0/syncpool/pkg/syncx"
)

const (
	defaultBufferSize = 4096
	// buffers that grew past this are replaced on release instead of kept
	defaultMaxRetained = 1 << 20
)

// BufferPool hands out reusable encode buffers
type BufferPool struct {
	pool        *pool.Pool[*bytes.Buffer]
	initialSize int
	maxRetained int
	timeout     time.Duration
}

// BufferConfig sizes a BufferPool
type BufferConfig struct {
	Pool pool.Config
	// InitialSize is the capacity of a new buffer
	InitialSize int
	// MaxRetained is the largest capacity a released buffer may keep
	MaxRetained int
	// AcquireTimeout bounds the wait for a buffer when the pool is at its limit
	AcquireTimeout time.Duration
}

// NewBufferPool creates a buffer pool
func NewBufferPool(cfg BufferConfig, l *zap.Logger) (*BufferPool, error) {
	if cfg.InitialSize <= 0 {
		cfg.InitialSize = defaultBufferSize
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = defaultMaxRetained
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = syncx.Infinite
	}
	size := cfg.InitialSize
	p, err := pool.New[*bytes.Buffer](cfg.Pool, pool.NewFuncAllocator(
		func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, size)) },
		nil,
	), pool.WithLogger[*bytes.Buffer](l))
	if err != nil {
		return nil, err
	}
	return &BufferPool{pool: p, initialSize: size, maxRetained: cfg.MaxRetained, timeout: cfg.AcquireTimeout}, nil
}

// Buffer is a checked-out buffer; Release returns it
type Buffer struct {
	*bytes.Buffer
	entry *pool.Entry[*bytes.Buffer]
	bp    *BufferPool
}

// Get checks out an empty buffer
func (bp *BufferPool) Get() (*Buffer, error) {
	e, err := bp.pool.Acquire(bp.timeout, nil)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, errors.New(errors.ErrorTypeTimeout, "no buffer available").WithComponent(bp.pool.Name())
	}
	buf := e.Value()
	buf.Reset()
	return &Buffer{Buffer: buf, entry: e, bp: bp}, nil
}

// Release returns the buffer to its pool. The buffer must not be used afterwards.
func (b *Buffer) Release() error {
	if b.Cap() > b.bp.maxRetained {
		b.entry.Replace(bytes.NewBuffer(make([]byte, 0, b.bp.initialSize)))
	}
	b.Buffer = nil
	return b.entry.Release()
}

// Stats reports the underlying pool
func (bp *BufferPool) Stats() (pool.Stats, error) { return bp.pool.Stats() }

// Close closes the underlying pool
func (bp *BufferPool) Close() error { return bp.pool.Close() }

var (
	defaultOnce sync.Once
	defaultPool *BufferPool
	defaultErr  error
)

// Default returns the process-wide buffer pool, creating it on first use
func Default() (*BufferPool, error) {
	defaultOnce.Do(func() {
		defaultPool, defaultErr = NewBufferPool(BufferConfig{
			Pool: pool.Config{Name: "json.buffers", AllocBlock: 64},
		}, zap.NewNop())
	})
	return defaultPool, defaultErr
}

// Marshal encodes v
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// MarshalIndent encodes v with indentation
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Unmarshal decodes data into v
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// Decode reads one value from r, keeping numbers as json.Number
func Decode(r io.Reader, v interface{}) error {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

// MarshalToWriter encodes v through a pooled buffer and writes it to w in one call.
// indent of "" writes compact JSON.
func MarshalToWriter(w io.Writer, v interface{}, indent string) error {
	bp, err := Default()
	if err != nil {
		return err
	}
	buf, err := bp.Get()
	if err != nil {
		return err
	}
	defer func() { _ = buf.Release() }()

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// MarshalLines encodes values as line-delimited JSON
func MarshalLines[T any](values []T) ([]byte, error) {
	bp, err := Default()
	if err != nil {
		return nil, err
	}
	buf, err := bp.Get()
	if err != nil {
		return nil, err
	}
	defer func() { _ = buf.Release() }()

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

// StreamingEncoder writes a JSON array or line-delimited values one at a time
type StreamingEncoder struct {
	w       io.Writer
	encoder *gojson.Encoder
	isArray bool
	first   bool
	err     error
}

// NewStreamingEncoder starts an encoder on w; isArray wraps the values in [ ]
func NewStreamingEncoder(w io.Writer, isArray bool) *StreamingEncoder {
	se := &StreamingEncoder{w: w, encoder: gojson.NewEncoder(w), isArray: isArray, first: true}
	se.encoder.SetEscapeHTML(false)
	if isArray {
		se.write([]byte{'['})
	}
	return se
}

func (se *StreamingEncoder) write(p []byte) {
	if se.err == nil {
		_, se.err = se.w.Write(p)
	}
}

// Encode writes one value
func (se *StreamingEncoder) Encode(v interface{}) error {
	if se.isArray && !se.first {
		se.write([]byte{','})
	}
	se.first = false
	if se.err != nil {
		return se.err
	}
	se.err = se.encoder.Encode(v)
	return se.err
}

// Close terminates the array
func (se *StreamingEncoder) Close() error {
	if se.isArray {
		se.write([]byte{']'})
	}
	return se.err
}
