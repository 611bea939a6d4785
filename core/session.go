package core

import (
	"fmt"
	"io"
	"time"

	apperrors "github.com/Skryldev/image-stream/errors"
)

// Session is one decode of one image.  It owns its decoder and is the
// decoder's Handler: size and region notifications land here, are checked,
// and are forwarded to the sink.
//
// A Session is not safe for concurrent use and cannot be reused.
type Session struct {
	name    string
	sink    Sink
	feeder  *Feeder
	logger  Logger
	decoder Decoder

	src      Source
	expected int64

	state    State
	geometry Geometry
	regions  int64
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithSessionName labels log lines.
func WithSessionName(name string) SessionOption {
	return func(s *Session) { s.name = name }
}

// WithSessionLogger attaches a structured logger.
func WithSessionLogger(l Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession creates an idle session painting into sink.  The decoder is built
// here, with the session as its handler.
func NewSession(sink Sink, factory DecoderFactory, feeder *Feeder, opts ...SessionOption) *Session {
	s := &Session{
		sink:     sink,
		feeder:   feeder,
		logger:   nopLogger{},
		expected: Unbounded,
	}
	for _, o := range opts {
		o(s)
	}
	s.decoder = factory(s)
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Geometry returns the image size, zero until the decoder has reported it.
func (s *Session) Geometry() Geometry { return s.geometry }

// Prepare attaches the byte source and the expected byte count (Unbounded
// when unknown).
func (s *Session) Prepare(src Source, expected int64) error {
	if s.state != StateIdle {
		return apperrors.New(apperrors.CategoryInput, "session.prepare",
			fmt.Errorf("session is %s", s.state))
	}
	if src == nil {
		return apperrors.New(apperrors.CategoryInput, "session.prepare", apperrors.ErrSourceUnavailable)
	}
	if expected < 0 {
		expected = Unbounded
	}
	s.src = src
	s.expected = expected
	s.state = StateAwaitingSize
	return nil
}

// Decode runs the read loop over buf until the transfer ends and reports how
// it went.  It never panics on bad input and always reports Downloaded.
func (s *Session) Decode(buf []byte) Outcome {
	if s.state != StateAwaitingSize {
		return Outcome{
			Status:   StatusDecodeFailed,
			Expected: s.expected,
			Err:      apperrors.New(apperrors.CategoryInput, "session.decode", apperrors.ErrSessionNotPrepared),
		}
	}

	start := time.Now()
	s.logger.Debug("session.start", "name", s.name, "expected", s.expected, "buffer", len(buf))

	res := s.feeder.Run(s.src, buf, s.decoder, s.expected)
	out := Outcome{
		Downloaded: res.Downloaded,
		Expected:   s.expected,
		Feeds:      res.Feeds,
	}

	switch res.Stop {
	case StopDecodeError:
		out.Status, out.Err = StatusDecodeFailed, res.Err
	case StopStalled:
		out.Status, out.Err = StatusStalled, res.Err
	case StopSourceError:
		out.Status, out.Err = StatusTruncated, res.Err
	default:
		out.Status, out.Err = s.transferEnded(res)
	}

	if c, ok := s.decoder.(io.Closer); ok {
		if err := c.Close(); err != nil && out.Status == StatusComplete {
			out.Status = StatusDecodeFailed
			out.Err = apperrors.Wrap(apperrors.CategoryDecode, "session.close", err)
		}
	}

	if out.Status == StatusDecodeFailed || out.Status == StatusStalled {
		s.state = StateFailed
	} else {
		s.state = StateDone
	}
	out.Geometry = s.geometry
	out.Regions = s.regions
	out.Duration = time.Since(start)

	s.logger.Debug("session.done",
		"name", s.name,
		"status", out.Status.String(),
		"stop", res.Stop.String(),
		"downloaded", out.Downloaded,
		"width", s.geometry.Width,
		"height", s.geometry.Height,
		"regions", s.regions,
	)
	return out
}

// transferEnded classifies a loop that stopped because the source closed or
// the expected byte count arrived.
func (s *Session) transferEnded(res FeedResult) (Status, error) {
	if res.Stop == StopDisconnected && s.expected >= 0 && res.Downloaded < s.expected {
		return StatusTruncated, apperrors.New(apperrors.CategorySource, "session.decode",
			fmt.Errorf("%w: %d of %d bytes", apperrors.ErrTruncated, res.Downloaded, s.expected))
	}
	if fin, ok := s.decoder.(Finisher); ok && !fin.Done() {
		return StatusTruncated, apperrors.New(apperrors.CategoryDecode, "session.decode", apperrors.ErrTruncated)
	}
	return StatusComplete, nil
}

// OnSize records the image size.  The first report wins: dimensions cannot
// change mid-stream, so later calls are ignored.
func (s *Session) OnSize(width, height int) error {
	if s.geometry.Known() {
		if width != s.geometry.Width || height != s.geometry.Height {
			s.logger.Warn("session.size_ignored",
				"name", s.name,
				"width", width,
				"height", height,
			)
		}
		return nil
	}
	if width <= 0 || height <= 0 {
		return apperrors.New(apperrors.CategoryDecode, "session.size",
			fmt.Errorf("%w: %dx%d", apperrors.ErrInvalidDimensions, width, height))
	}
	if err := s.sink.SetSize(width, height); err != nil {
		return apperrors.Wrap(apperrors.CategorySink, "session.size", err)
	}
	s.geometry = Geometry{Width: width, Height: height}
	s.state = StateReceivingRegions
	s.logger.Debug("session.size", "name", s.name, "width", width, "height", height)
	return nil
}

// OnRegion forwards a decoded rectangle to the sink.  Regions before the size
// is known, or outside it, are rejected.
func (s *Session) OnRegion(r Rect) error {
	if !s.geometry.Known() {
		return apperrors.New(apperrors.CategoryDecode, "session.region", apperrors.ErrRegionBeforeSize)
	}
	if !s.geometry.Contains(r) {
		return apperrors.New(apperrors.CategoryDecode, "session.region",
			fmt.Errorf("%w: %v in %dx%d", apperrors.ErrRegionOutOfBounds, r.Bounds(), s.geometry.Width, s.geometry.Height))
	}
	s.sink.Paint(r)
	s.regions++
	return nil
}
