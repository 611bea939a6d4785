package imagestream

import (
	"context"
	"io"
	"sync"

	"github.com/Skryldev/image-stream/adapters/decoder"
	"github.com/Skryldev/image-stream/adapters/encoder"
	"github.com/Skryldev/image-stream/adapters/sink"
	"github.com/Skryldev/image-stream/adapters/source"
	"github.com/Skryldev/image-stream/config"
	"github.com/Skryldev/image-stream/core"
)

// Re-export Format constants for convenience.
const (
	PNG = core.FormatPNG
	QOI = core.FormatQOI
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Processor is the primary entry point.
type Processor struct {
	cfg   config.Config
	inner *core.Processor
	reg   *core.DefaultRegistry

	httpOnce sync.Once
	http     *source.HTTPClient
	httpErr  error
}

// New creates a fully wired Processor with the PNG and QOI engines
// registered.  Pass a custom config.Config to override defaults.
func New(cfg config.Config) *Processor {
	// A receive window smaller than half the working buffer would never let
	// the read loop see a full batch.
	if w := cfg.HTTP.ReceiveWindow; w <= 0 || w < cfg.BufferSize/2 {
		cfg.HTTP.ReceiveWindow = max(source.DefaultWindow, cfg.BufferSize/2)
	}
	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatPNG, decoder.PNGFactory())
	reg.RegisterDecoder(core.FormatQOI, decoder.QOIFactory())

	inner := core.New(cfg, reg)
	return &Processor{cfg: cfg, inner: inner, reg: reg}
}

// SetLogger attaches a structured logger.
func (p *Processor) SetLogger(l core.Logger) { p.inner.SetLogger(l) }

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m core.MetricsCollector) { p.inner.SetMetrics(m) }

// AddHook registers an observer for session events.
func (p *Processor) AddHook(h core.Hook) { p.inner.AddHook(h) }

// RegisterDecoder registers a custom engine for the given format.
func (p *Processor) RegisterDecoder(f core.Format, d core.DecoderFactory) { p.reg.RegisterDecoder(f, d) }

// Start starts the background worker pool.
func (p *Processor) Start() { p.inner.Start() }

// Stop drains and shuts down the worker pool.
func (p *Processor) Stop() { p.inner.Stop() }

// Process streams one request synchronously.
func (p *Processor) Process(ctx context.Context, req core.Request) (*core.Outcome, error) {
	return p.inner.Process(ctx, req)
}

// Batch streams several requests concurrently.
func (p *Processor) Batch(ctx context.Context, reqs []core.Request) ([]*core.Outcome, []error) {
	return p.inner.Batch(ctx, reqs)
}

// Submit enqueues an async job for the worker pool.
func (p *Processor) Submit(job core.Job) error { return p.inner.Submit(job) }

// Stats returns lightweight processing statistics.
func (p *Processor) Stats() (processed, errors int64) {
	return p.inner.ProcessedCount(), p.inner.ErrorCount()
}

// ── Sources ────────────────────────────────────────────────────────────────────

// FromURL downloads url and streams it into dst.  Content-Length, when the
// server sends one, bounds the transfer.
func (p *Processor) FromURL(ctx context.Context, url string, dst core.Sink) (*core.Outcome, error) {
	client, err := p.httpClient()
	if err != nil {
		return nil, err
	}
	res, err := client.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer res.Close()
	return p.fromResource(ctx, res, dst)
}

// FromFile streams a local file into dst.
func (p *Processor) FromFile(ctx context.Context, path string, dst core.Sink) (*core.Outcome, error) {
	res, err := source.OpenFile(path, p.cfg.HTTP.ReceiveWindow)
	if err != nil {
		return nil, err
	}
	defer res.Close()
	return p.fromResource(ctx, res, dst)
}

// FromReader streams r into dst.  size is the byte count if known, or
// core.Unbounded to read until r is exhausted.
func (p *Processor) FromReader(ctx context.Context, r io.Reader, size int64, dst core.Sink) (*core.Outcome, error) {
	s := source.FromReader(r, p.cfg.HTTP.ReceiveWindow)
	defer s.Close()
	return p.Process(ctx, core.Request{Source: s, Expected: size, Sink: dst})
}

func (p *Processor) fromResource(ctx context.Context, res *source.Resource, dst core.Sink) (*core.Outcome, error) {
	return p.Process(ctx, core.Request{
		Name:     res.Name,
		Source:   res.Stream,
		Expected: res.Expected,
		Format:   res.Format,
		Sink:     dst,
	})
}

func (p *Processor) httpClient() (*source.HTTPClient, error) {
	p.httpOnce.Do(func() {
		p.http, p.httpErr = source.NewHTTPClient(p.cfg)
	})
	return p.http, p.httpErr
}

// ── Sinks ──────────────────────────────────────────────────────────────────────

// NewCanvas returns an in-memory canvas bounded by cfg.MaxPixels.
func (p *Processor) NewCanvas() *sink.Canvas { return sink.NewCanvas(p.cfg.MaxPixels) }

// NewFramebuffer returns a display framebuffer laid out per cfg.Display, and
// the sink to stream into it.  The sink scales the image to the configured
// resize box when one is set.
func (p *Processor) NewFramebuffer() (*sink.Framebuffer, core.Sink, error) {
	fb, err := sink.NewFramebuffer(p.cfg.Display, p.cfg.MaxPixels)
	if err != nil {
		return nil, nil, err
	}
	d := p.cfg.Display
	if d.ResizeWidth == 0 && d.ResizeHeight == 0 {
		return fb, fb, nil
	}
	return fb, sink.NewScaled(fb, d.ResizeWidth, d.ResizeHeight), nil
}

// Export encodes a finished canvas.  A non-zero width or height first
// resamples it, keeping the aspect ratio when one of them is 0.
func Export(ctx context.Context, c *sink.Canvas, enc encoder.Encoder, width, height int, opts encoder.Options) ([]byte, error) {
	img := c.Image()
	if width > 0 || height > 0 {
		resized, err := c.Resized(width, height)
		if err != nil {
			return nil, err
		}
		img = resized
	}
	return enc.Encode(ctx, img, opts)
}
