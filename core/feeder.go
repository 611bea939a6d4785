package core

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	apperrors "github.com/Skryldev/image-stream/errors"
)

// StopReason says why the read loop ended.
type StopReason int

const (
	StopExpectedReached StopReason = iota
	StopDisconnected
	StopDecodeError
	StopStalled
	StopSourceError
)

func (r StopReason) String() string {
	switch r {
	case StopExpectedReached:
		return "expected_reached"
	case StopDisconnected:
		return "disconnected"
	case StopDecodeError:
		return "decode_error"
	case StopStalled:
		return "stalled"
	case StopSourceError:
		return "source_error"
	}
	return "unknown"
}

// FeedResult is what one run of the read loop produced.
type FeedResult struct {
	Downloaded int64
	Feeds      int
	Stop       StopReason
	Err        error
}

// Feeder drives a decoder from a source through a fixed working buffer.  It
// holds no per-session state and may be reused.
type Feeder struct {
	idleWait  time.Duration
	gapWait   time.Duration
	heartbeat Heartbeat
	sleep     func(time.Duration)
	logger    Logger
	observe   func(offered, consumed int)
}

// FeederOption customises a Feeder.
type FeederOption func(*Feeder)

// WithHeartbeat sets the liveness signal.  The default yields the processor
// with runtime.Gosched.
func WithHeartbeat(h Heartbeat) FeederOption {
	return func(f *Feeder) {
		if h != nil {
			f.heartbeat = h
		}
	}
}

// WithSleep replaces time.Sleep, mainly so tests can simulate network pacing.
func WithSleep(fn func(time.Duration)) FeederOption {
	return func(f *Feeder) {
		if fn != nil {
			f.sleep = fn
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l Logger) FeederOption {
	return func(f *Feeder) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithFeedObserver is called after every successful feed.
func WithFeedObserver(fn func(offered, consumed int)) FeederOption {
	return func(f *Feeder) { f.observe = fn }
}

// NewFeeder returns a Feeder.  idleWait is slept while too little data has
// arrived to be worth a read; gapWait after a read that returned nothing.
func NewFeeder(idleWait, gapWait time.Duration, opts ...FeederOption) *Feeder {
	f := &Feeder{
		idleWait:  idleWait,
		gapWait:   gapWait,
		heartbeat: runtime.Gosched,
		sleep:     time.Sleep,
		logger:    nopLogger{},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Run reads from src until it disconnects or expected bytes have been
// downloaded (expected < 0 means unbounded), feeding dec through buf.
//
// The first remain bytes of buf always hold input the decoder has not consumed
// yet; new bytes are appended after them and the unconsumed tail is moved back
// to the front after every feed.  buf is never grown.
func (f *Feeder) Run(src Source, buf []byte, dec Decoder, expected int64) FeedResult {
	capacity := len(buf)
	remain := 0
	var res FeedResult

	f.heartbeat()
	defer f.heartbeat()

	if capacity == 0 {
		res.Stop = StopStalled
		res.Err = apperrors.New(apperrors.CategoryStall, "feed", apperrors.ErrBufferStalled)
		return res
	}

	for src.Connected() && (expected < 0 || res.Downloaded < expected) {
		f.heartbeat()

		available := src.Available()
		if f.shouldWait(src, available, capacity, expected, res.Downloaded) {
			f.sleep(f.idleWait)
			continue
		}

		toRead := min(available, capacity-remain)
		n, err := src.Read(buf[remain : remain+toRead])
		if n > 0 {
			res.Downloaded += int64(n)
			offered := remain + n
			consumed, ferr := dec.Feed(buf[:offered])
			res.Feeds++
			if ferr == nil && (consumed < 0 || consumed > offered) {
				ferr = fmt.Errorf("decoder reported consuming %d of %d bytes", consumed, offered)
			}
			if ferr != nil {
				res.Stop = StopDecodeError
				res.Err = decodeError(ferr)
				f.logger.Error("feed.decode_error",
					"downloaded", res.Downloaded,
					"error", res.Err.Error(),
				)
				return res
			}
			if f.observe != nil {
				f.observe(offered, consumed)
			}

			remain = offered - consumed
			if remain > 0 {
				copy(buf, buf[consumed:offered])
			}
			if remain == capacity {
				res.Stop = StopStalled
				res.Err = apperrors.New(apperrors.CategoryStall, "feed", apperrors.ErrBufferStalled)
				f.logger.Error("feed.stalled",
					"downloaded", res.Downloaded,
					"buffer", capacity,
				)
				return res
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			res.Stop = StopSourceError
			res.Err = apperrors.Wrap(apperrors.CategorySource, "feed.read", err)
			f.logger.Warn("feed.read_error",
				"downloaded", res.Downloaded,
				"error", err.Error(),
			)
			return res
		}
		if n <= 0 {
			f.sleep(f.gapWait)
		}
	}

	if expected >= 0 && res.Downloaded >= expected {
		res.Stop = StopExpectedReached
	} else {
		res.Stop = StopDisconnected
	}
	return res
}

// shouldWait decides whether to let more bytes accumulate before reading.
// Small reads are deferred while more is still owed than is buffered, which
// batches trickling deliveries into fewer, larger feeds.  A source whose
// receive window is full cannot deliver more, so a full window always reads.
func (f *Feeder) shouldWait(src Source, available, capacity int, expected, downloaded int64) bool {
	if available <= 0 {
		return true
	}
	threshold := capacity / 2
	if w, ok := src.(Windowed); ok && w.Window() > 0 {
		threshold = min(threshold, w.Window())
	}
	if available >= threshold || expected < 0 {
		return false
	}
	if r, ok := src.(EOFReporter); ok && r.EOF() {
		return false
	}
	return expected-downloaded > int64(available)
}

// decodeError keeps categorised errors from the handler (sink failures,
// rejected regions) and files everything else under decode.
func decodeError(err error) error {
	var pe *apperrors.ProcessingError
	if errors.As(err, &pe) {
		return err
	}
	return apperrors.New(apperrors.CategoryDecode, "feed", err)
}
