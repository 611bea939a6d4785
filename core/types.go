package core

import (
	"context"
	"image"
	"image/color"
	"time"
)

// Format identifies an image codec.
type Format string

const (
	FormatPNG     Format = "png"
	FormatQOI     Format = "qoi"
	FormatUnknown Format = "unknown"
)

// Unbounded is the expected-size sentinel meaning "read until the source
// disconnects".
const Unbounded int64 = -1

// Geometry is the pixel size of the image being decoded.  It is zero until the
// decoder reports it.
type Geometry struct {
	Width  int
	Height int
}

// Known reports whether the size has been reported.
func (g Geometry) Known() bool { return g.Width > 0 && g.Height > 0 }

// Contains reports whether r lies entirely inside the image.
func (g Geometry) Contains(r Rect) bool {
	return r.W > 0 && r.H > 0 &&
		r.X >= 0 && r.Y >= 0 &&
		r.X+r.W <= g.Width && r.Y+r.H <= g.Height
}

// Rect is a block of decoded pixels sharing one colour.
type Rect struct {
	X, Y  int
	W, H  int
	Color color.NRGBA
}

// Bounds returns r as an image.Rectangle.
func (r Rect) Bounds() image.Rectangle { return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H) }

// Status is the caller-visible result of a decode session.
type Status int

const (
	StatusComplete Status = iota
	StatusTruncated
	StatusDecodeFailed
	StatusStalled
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusTruncated:
		return "truncated"
	case StatusDecodeFailed:
		return "decode_failed"
	case StatusStalled:
		return "stalled"
	}
	return "unknown"
}

// State tracks where a session is in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingSize
	StateReceivingRegions
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingSize:
		return "awaiting_size"
	case StateReceivingRegions:
		return "receiving_regions"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome describes how a session ended.  Downloaded is always populated,
// whatever the status.
type Outcome struct {
	Status     Status
	Downloaded int64
	Expected   int64 // Unbounded when the size was not known up front
	Geometry   Geometry
	Regions    int64
	Feeds      int
	Duration   time.Duration
	Err        error // nil only for StatusComplete
}

// OK reports whether the image was fully received and decoded.
func (o *Outcome) OK() bool { return o != nil && o.Status == StatusComplete }

// Request is one image to stream into a sink.
type Request struct {
	Name     string // optional logical name used in logs and hooks
	Source   Source
	Expected int64  // byte count, or Unbounded
	Format   Format // optional; sniffed from the first bytes when empty or unknown
	Sink     Sink
}

// Job encapsulates a single unit of work for the worker pool.
type Job struct {
	ID      string
	Ctx     context.Context //nolint:containedctx // intentional for async jobs
	Request Request
	// Result channel; nil for fire-and-forget.
	ResultCh chan<- JobResult
}

// JobResult wraps the outcome of an async job.
type JobResult struct {
	JobID   string
	Outcome *Outcome
	Err     error
}
