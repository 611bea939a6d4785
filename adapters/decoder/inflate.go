package decoder

import (
	"io"

	"github.com/klauspost/compress/zlib"
)

// inflateChunk is the size of the scratch buffer decompressed bytes pass
// through on their way to the scanline reader.
const inflateChunk = 4096

// inflater adapts the pull-style zlib reader to push-style feeding.
//
// The zlib reader runs on its own goroutine but never concurrently with the
// feeding side: Write hands a slice over and blocks until the reader has
// consumed all of it (or finished), so output callbacks only ever run while
// the feeder is parked inside Write.
type inflater struct {
	out func([]byte) error // receives decompressed bytes on the reader goroutine

	in   chan []byte
	ack  chan struct{} // one token per slice, sent once it is fully consumed
	done chan struct{}
	err  error // set before done is closed

	started bool
	closed  bool

	// Reader-side state, touched only by the reader goroutine.
	cur     []byte
	holding bool
}

func newInflater(out func([]byte) error) *inflater {
	return &inflater{
		out:  out,
		in:   make(chan []byte),
		ack:  make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Write passes compressed bytes to the reader and waits until they are used.
// p is not retained after Write returns.
func (f *inflater) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if f.closed {
		return io.ErrClosedPipe
	}
	if !f.started {
		f.started = true
		go f.run()
	}
	select {
	case f.in <- p:
	case <-f.done:
		// The zlib stream already ended; trailing bytes are ignored.
		return f.err
	}
	select {
	case <-f.ack:
		return nil
	case <-f.done:
		return f.err
	}
}

// Finished reports whether the zlib stream has ended, cleanly or not.
func (f *inflater) Finished() bool {
	if !f.started {
		return false
	}
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Close signals end of input and waits for the reader to exit.  It returns
// the reader's error, which is io.ErrUnexpectedEOF when the zlib stream was
// cut short.
func (f *inflater) Close() error {
	if !f.started {
		return nil
	}
	if !f.closed {
		f.closed = true
		close(f.in)
	}
	<-f.done
	return f.err
}

func (f *inflater) run() {
	defer close(f.done)

	zr, err := zlib.NewReader(f)
	if err != nil {
		f.err = err
		return
	}
	defer zr.Close()

	buf := make([]byte, inflateChunk)
	for {
		n, err := zr.Read(buf)
		if n > 0 {
			if oerr := f.out(buf[:n]); oerr != nil {
				f.err = oerr
				return
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			f.err = err
			return
		}
	}
}

// next makes sure cur holds unread input, acknowledging the previous slice
// before blocking for the next one.
func (f *inflater) next() bool {
	for len(f.cur) == 0 {
		if f.holding {
			f.holding = false
			f.ack <- struct{}{}
		}
		p, ok := <-f.in
		if !ok {
			return false
		}
		f.cur, f.holding = p, true
	}
	return true
}

// ReadByte lets the flate decompressor read without its own read-ahead
// buffer, so no input is held back between feeds.
func (f *inflater) ReadByte() (byte, error) {
	if !f.next() {
		return 0, io.ErrUnexpectedEOF
	}
	c := f.cur[0]
	f.cur = f.cur[1:]
	return c, nil
}

func (f *inflater) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !f.next() {
		return 0, io.ErrUnexpectedEOF
	}
	n := copy(p, f.cur)
	f.cur = f.cur[n:]
	return n, nil
}
