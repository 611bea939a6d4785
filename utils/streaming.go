package utils

import (
	"io"
	"sync"
)

// BufferPool hands out fixed-size working buffers.  Every buffer it returns
// has exactly the configured length; foreign-sized buffers are not pooled.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool returns a pool of size-byte buffers.
func NewBufferPool(size int) *BufferPool {
	p := &BufferPool{size: size}
	p.pool.New = func() interface{} {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Size returns the length of the pooled buffers.
func (p *BufferPool) Size() int { return p.size }

// Get returns a buffer of exactly Size bytes.  Its contents are undefined.
func (p *BufferPool) Get() *[]byte { return p.pool.Get().(*[]byte) }

// Put returns b to the pool.  Callers must not use b after this call.
func (p *BufferPool) Put(b *[]byte) {
	if b == nil || len(*b) != p.size {
		return
	}
	p.pool.Put(b)
}

// LimitedReader wraps r and returns an error when more than max bytes are read.
type LimitedReader struct {
	R   io.Reader
	Max int64
	n   int64
}

func (l *LimitedReader) Read(p []byte) (int, error) {
	if l.n >= l.Max && l.Max > 0 {
		// Exactly Max bytes is fine; only a further byte is an overrun.
		var probe [1]byte
		n, err := l.R.Read(probe[:])
		if n == 0 && err == io.EOF {
			return 0, io.EOF
		}
		if n == 0 && err == nil {
			return 0, nil
		}
		return 0, io.ErrUnexpectedEOF
	}
	if l.Max > 0 {
		remain := l.Max - l.n
		if int64(len(p)) > remain {
			p = p[:remain]
		}
	}
	n, err := l.R.Read(p)
	l.n += int64(n)
	return n, err
}
