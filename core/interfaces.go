package core

import (
	"context"
	"time"
)

// Source is a connected byte stream, typically a network socket with a
// receive buffer behind it.
type Source interface {
	// Available returns how many bytes can be read right now without waiting.
	Available() int
	// Connected reports whether more bytes may still be read.
	Connected() bool
	// Read copies up to len(p) buffered bytes into p.  It does not wait; a
	// return of 0, nil is a transient gap.
	Read(p []byte) (int, error)
}

// EOFReporter is implemented by sources that know the peer has finished
// sending, so that what is buffered is all that will ever arrive.
type EOFReporter interface {
	EOF() bool
}

// Windowed is implemented by sources that buffer at most Window bytes ahead
// of the reader.  Such a source can never report more than that available.
type Windowed interface {
	Window() int
}

// Decoder is an incremental decoding engine.  Feed consumes as many complete
// units from the front of p as it can and returns how many bytes it used; the
// rest must be offered again, followed by newer bytes.  A non-nil error is
// unrecoverable.  Feed must not retain p.
type Decoder interface {
	Feed(p []byte) (int, error)
}

// Finisher is implemented by decoders that can tell whether the whole image
// has been decoded.
type Finisher interface {
	Done() bool
}

// Handler receives the decoder's notifications.  OnSize is called once, before
// any OnRegion.  Returning an error aborts decoding.
//
// Calls happen inside Decoder.Feed and never overlap, but they need not run
// on the goroutine that called Feed: the PNG engine calls them from its
// inflater goroutine while Feed blocks.  Sinks with goroutine-affine state
// must hand regions over to their own goroutine.
type Handler interface {
	OnSize(width, height int) error
	OnRegion(r Rect) error
}

// DecoderFactory builds a decoder bound to the handler it reports to.
type DecoderFactory func(h Handler) Decoder

// Sink is the rendering surface.  Both calls are expected to be fast compared
// to network latency.
type Sink interface {
	SetSize(width, height int) error
	Paint(r Rect)
}

// Heartbeat is the liveness signal emitted by the read loop.  It must be cheap
// enough to call on every iteration.
type Heartbeat func()

// MetricsCollector receives performance observations from sessions.
type MetricsCollector interface {
	RecordSession(status string, d time.Duration)
	RecordThroughput(bytes int64)
	RecordFeed(offered, consumed int)
	RecordError(op string, category string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Hook is an optional observer invoked around decode sessions.
type Hook interface {
	BeforeSession(ctx context.Context, name string, req *Request)
	AfterSession(ctx context.Context, name string, out *Outcome, d time.Duration)
}

// Registry maps Format values to decoder factories.
type Registry interface {
	DecoderFor(format Format) (DecoderFactory, bool)
	RegisterDecoder(format Format, f DecoderFactory)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
