// Package hooks provides production-ready Hook and Logger implementations.
package hooks

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/image-stream/core"
	apperrors "github.com/Skryldev/image-stream/errors"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l *slog.Logger) *SlogLogger { return &SlogLogger{log: l} }

func (s *SlogLogger) Debug(msg string, fields ...interface{}) {
	s.log.Debug(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Info(msg string, fields ...interface{}) {
	s.log.Info(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Warn(msg string, fields ...interface{}) {
	s.log.Warn(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Error(msg string, fields ...interface{}) {
	s.log.Error(msg, toAttrs(fields)...)
}

func toAttrs(fields []interface{}) []any { return fields }

// ParseLevel maps config.LogLevel strings onto slog levels.  Unknown values
// fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs the start and end of each decode session.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) BeforeSession(_ context.Context, name string, req *core.Request) {
	h.logger.Debug("session.start",
		"name", name,
		"format", req.Format,
		"expected", req.Expected,
	)
}

func (h *LoggingHook) AfterSession(_ context.Context, name string, out *core.Outcome, d time.Duration) {
	if out.Err != nil {
		h.logger.Error("session.error",
			"name", name,
			"status", out.Status.String(),
			"downloaded", out.Downloaded,
			"expected", out.Expected,
			"duration_ms", d.Milliseconds(),
			"error", out.Err.Error(),
		)
		return
	}
	h.logger.Info("session.done",
		"name", name,
		"width", out.Geometry.Width,
		"height", out.Geometry.Height,
		"downloaded", out.Downloaded,
		"regions", out.Regions,
		"feeds", out.Feeds,
		"duration_ms", d.Milliseconds(),
	)
}

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics atomically; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	sessions    map[string]int64 // count per status
	durationsMs map[string]int64 // cumulative ms per status
	errors      map[string]int64 // count per category

	totalBytes    int64
	feedCalls     int64
	bytesOffered  int64
	bytesConsumed int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		sessions:    make(map[string]int64),
		durationsMs: make(map[string]int64),
		errors:      make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordSession(status string, d time.Duration) {
	m.mu.Lock()
	m.sessions[status]++
	m.durationsMs[status] += d.Milliseconds()
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordThroughput(bytes int64) {
	atomic.AddInt64(&m.totalBytes, bytes)
}

func (m *InMemoryMetrics) RecordFeed(offered, consumed int) {
	atomic.AddInt64(&m.feedCalls, 1)
	atomic.AddInt64(&m.bytesOffered, int64(offered))
	atomic.AddInt64(&m.bytesConsumed, int64(consumed))
}

func (m *InMemoryMetrics) RecordError(_ string, category string) {
	m.mu.Lock()
	m.errors[category]++
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		Sessions:      make(map[string]int64, len(m.sessions)),
		DurationsMs:   make(map[string]int64, len(m.durationsMs)),
		Errors:        make(map[string]int64, len(m.errors)),
		TotalBytes:    atomic.LoadInt64(&m.totalBytes),
		FeedCalls:     atomic.LoadInt64(&m.feedCalls),
		BytesOffered:  atomic.LoadInt64(&m.bytesOffered),
		BytesConsumed: atomic.LoadInt64(&m.bytesConsumed),
	}
	for k, v := range m.sessions {
		snap.Sessions[k] = v
	}
	for k, v := range m.durationsMs {
		snap.DurationsMs[k] = v
	}
	for k, v := range m.errors {
		snap.Errors[k] = v
	}
	return snap
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	Sessions      map[string]int64
	DurationsMs   map[string]int64
	Errors        map[string]int64
	TotalBytes    int64
	FeedCalls     int64
	BytesOffered  int64
	BytesConsumed int64
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds session outcomes into a MetricsCollector.  Use it when the
// collector is not attached to the Processor directly.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeSession(_ context.Context, _ string, _ *core.Request) {}

func (h *MetricsHook) AfterSession(_ context.Context, _ string, out *core.Outcome, d time.Duration) {
	h.collector.RecordSession(out.Status.String(), d)
	h.collector.RecordThroughput(out.Downloaded)
	if out.Err != nil {
		h.collector.RecordError("session", string(apperrors.CategoryOf(out.Err)))
	}
}
