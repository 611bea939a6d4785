// Package source provides core.Source implementations over network, file and
// object-store streams.
package source

import (
	"errors"
	"io"
	"sync"

	"github.com/Skryldev/image-stream/core"
)

// DefaultWindow is the receive buffer size used when none is configured.
const DefaultWindow = 4096

// Stream turns a blocking io.ReadCloser into a core.Source.  A pump goroutine
// reads ahead into a fixed ring, the way a socket fills its receive buffer,
// and Read only ever copies out of that ring.
type Stream struct {
	rc io.ReadCloser

	mu     sync.Mutex
	cond   *sync.Cond
	ring   []byte
	head   int // index of the oldest buffered byte
	n      int // buffered byte count
	total  int64
	eof    bool
	err    error
	told   bool // err has been returned by Read
	closed bool
}

// NewStream starts pumping rc into a window-byte ring.  A window <= 0 uses
// DefaultWindow.
func NewStream(rc io.ReadCloser, window int) *Stream {
	if window <= 0 {
		window = DefaultWindow
	}
	s := &Stream{rc: rc, ring: make([]byte, window)}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// FromReader wraps a reader that needs no closing.
func FromReader(r io.Reader, window int) *Stream {
	return NewStream(io.NopCloser(r), window)
}

var _ core.Source = (*Stream)(nil)
var _ core.EOFReporter = (*Stream)(nil)
var _ core.Windowed = (*Stream)(nil)

func (s *Stream) pump() {
	scratch := make([]byte, len(s.ring))
	for {
		s.mu.Lock()
		for s.n == len(s.ring) && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		free := len(s.ring) - s.n
		s.mu.Unlock()

		n, err := s.rc.Read(scratch[:free])

		s.mu.Lock()
		if !s.closed {
			s.put(scratch[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.eof = true
			} else if !s.closed {
				s.err = err
			}
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

// put appends p to the ring.  The caller holds mu and has checked the space.
func (s *Stream) put(p []byte) {
	tail := (s.head + s.n) % len(s.ring)
	c := copy(s.ring[tail:], p)
	copy(s.ring, p[c:])
	s.n += len(p)
	s.total += int64(len(p))
}

// Available returns the buffered byte count.  A pending transport error
// counts as one readable byte so that the read loop collects it.
func (s *Stream) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n == 0 && s.err != nil && !s.told {
		return 1
	}
	return s.n
}

// Connected reports whether bytes are buffered or may still arrive.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n > 0 {
		return true
	}
	if s.err != nil {
		return !s.told
	}
	return !s.eof && !s.closed
}

// EOF reports whether the peer has stopped sending.  Whatever is buffered is
// all that will arrive.
func (s *Stream) EOF() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof || s.err != nil || s.closed
}

// Read copies buffered bytes into p without waiting.  Once the ring is
// drained it returns io.EOF after a clean end, or the transport error.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n == 0 {
		switch {
		case s.err != nil:
			s.told = true
			return 0, s.err
		case s.eof:
			return 0, io.EOF
		}
		return 0, nil
	}
	n := min(len(p), s.n)
	c := copy(p[:n], s.ring[s.head:min(s.head+n, len(s.ring))])
	copy(p[c:n], s.ring)
	s.head = (s.head + n) % len(s.ring)
	s.n -= n
	s.cond.Signal()
	return n, nil
}

// Window returns the ring size, the most Available will ever report.
func (s *Stream) Window() int { return len(s.ring) }

// Received returns how many bytes the pump has taken from the transport.
func (s *Stream) Received() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Close stops the pump and closes the underlying reader.  Buffered bytes are
// discarded.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.n = 0
	s.cond.Broadcast()
	s.mu.Unlock()
	return s.rc.Close()
}
