package core

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/image-stream/config"
	apperrors "github.com/Skryldev/image-stream/errors"
	"github.com/Skryldev/image-stream/utils"
)

// Processor is the central orchestrator.  Each request runs as its own
// single-threaded session; distinct requests may run concurrently on the
// worker pool.  It is safe for concurrent use.
type Processor struct {
	cfg       config.Config
	registry  Registry
	hooks     []Hook
	logger    Logger
	metrics   MetricsCollector
	heartbeat Heartbeat
	sleep     func(time.Duration)
	buffers   *utils.BufferPool

	// Worker pool.
	jobQueue chan Job
	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once
	shutdown chan struct{}

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

// New creates a Processor with the given config.  Call Start() before
// submitting jobs; call Stop() when done.
func New(cfg config.Config, reg Registry) *Processor {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	bufSize := cfg.BufferSize
	if bufSize < config.MinBufferSize {
		bufSize = config.MinBufferSize
	}
	return &Processor{
		cfg:       cfg,
		registry:  reg,
		logger:    nopLogger{},
		heartbeat: runtime.Gosched,
		buffers:   utils.NewBufferPool(bufSize),
		jobQueue:  make(chan Job, queueSize),
		shutdown:  make(chan struct{}),
	}
}

// SetLogger attaches a structured logger.
func (p *Processor) SetLogger(l Logger) {
	if l != nil {
		p.logger = l
	}
}

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m MetricsCollector) { p.metrics = m }

// SetHeartbeat replaces the liveness signal emitted by every read loop.
func (p *Processor) SetHeartbeat(h Heartbeat) {
	if h != nil {
		p.heartbeat = h
	}
}

// SetSleep replaces time.Sleep in the read loops.  Intended for tests.
func (p *Processor) SetSleep(fn func(time.Duration)) { p.sleep = fn }

// AddHook registers a session hook.
func (p *Processor) AddHook(h Hook) { p.hooks = append(p.hooks, h) }

// Registry returns the underlying registry so callers can register
// decoders after construction.
func (p *Processor) Registry() Registry { return p.registry }

// Start launches the worker pool.  It is idempotent.
func (p *Processor) Start() {
	p.once.Do(func() {
		workerCount := p.cfg.WorkerCount
		if workerCount <= 0 {
			workerCount = runtime.NumCPU()
		}
		for i := 0; i < workerCount; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

// Stop shuts down all workers and waits for running jobs to finish.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.shutdown) })
	p.wg.Wait()
}

// Process is the primary synchronous API.  It streams req.Source into
// req.Sink and returns the session outcome.  The returned error is non-nil
// only when the request could not be started; decode problems are reported
// through the Outcome.
//
// Cancelling ctx makes the source report disconnected, which ends the session
// as truncated.
func (p *Processor) Process(ctx context.Context, req Request) (*Outcome, error) {
	if req.Source == nil {
		return nil, apperrors.New(apperrors.CategoryInput, "process", apperrors.ErrSourceUnavailable)
	}
	if req.Sink == nil {
		return nil, apperrors.New(apperrors.CategoryInput, "process", apperrors.ErrEmptyInput)
	}

	factory := Sniffing(p.registry, req.Format)
	if req.Format != "" && req.Format != FormatUnknown {
		f, ok := p.registry.DecoderFor(req.Format)
		if !ok {
			atomic.AddInt64(&p.errorCount, 1)
			return nil, apperrors.New(apperrors.CategoryInput, "process", apperrors.ErrUnsupportedFormat)
		}
		factory = f
	}

	opts := []FeederOption{WithHeartbeat(p.heartbeat), WithLogger(p.logger), WithSleep(p.sleep)}
	if p.metrics != nil {
		opts = append(opts, WithFeedObserver(p.metrics.RecordFeed))
	}
	feeder := NewFeeder(p.cfg.IdleWait, p.cfg.GapWait, opts...)

	session := NewSession(req.Sink, factory, feeder,
		WithSessionName(req.Name),
		WithSessionLogger(p.logger),
	)
	if err := session.Prepare(&contextSource{ctx: ctx, src: req.Source}, req.Expected); err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		return nil, err
	}

	p.notifyBefore(ctx, req.Name, &req)

	buf := p.buffers.Get()
	out := session.Decode(*buf)
	p.buffers.Put(buf)

	p.notifyAfter(ctx, req.Name, &out, out.Duration)

	if out.OK() {
		atomic.AddInt64(&p.processedCount, 1)
	} else {
		atomic.AddInt64(&p.errorCount, 1)
		p.logger.Warn("process.incomplete",
			"name", req.Name,
			"status", out.Status.String(),
			"downloaded", out.Downloaded,
			"expected", out.Expected,
		)
	}
	if p.metrics != nil {
		p.metrics.RecordSession(out.Status.String(), out.Duration)
		p.metrics.RecordThroughput(out.Downloaded)
		if out.Err != nil {
			p.metrics.RecordError("session", string(apperrors.CategoryOf(out.Err)))
		}
	}
	return &out, nil
}

// Submit enqueues an async job.  Returns ErrWorkerPoolFull if the queue is full.
func (p *Processor) Submit(job Job) error {
	select {
	case p.jobQueue <- job:
		return nil
	default:
		return apperrors.New(apperrors.CategoryInput, "submit", apperrors.ErrWorkerPoolFull)
	}
}

// Batch processes multiple requests concurrently (fan-out / fan-in).
func (p *Processor) Batch(ctx context.Context, reqs []Request) ([]*Outcome, []error) {
	results := make([]*Outcome, len(reqs))
	errs := make([]error, len(reqs))
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		go func(idx int, r Request) {
			defer wg.Done()
			results[idx], errs[idx] = p.Process(ctx, r)
		}(i, req)
	}
	wg.Wait()
	return results, errs
}

// ── worker pool internals ──────────────────────────────────────────────────────

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.processJob(job)
		}
	}
}

func (p *Processor) processJob(job Job) {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := p.cfg.JobTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := p.Process(ctx, job.Request)
	if job.ResultCh != nil {
		job.ResultCh <- JobResult{JobID: job.ID, Outcome: out, Err: err}
	}
}

func (p *Processor) notifyBefore(ctx context.Context, name string, req *Request) {
	for _, h := range p.hooks {
		h.BeforeSession(ctx, name, req)
	}
}

func (p *Processor) notifyAfter(ctx context.Context, name string, out *Outcome, d time.Duration) {
	for _, h := range p.hooks {
		h.AfterSession(ctx, name, out, d)
	}
}

// ProcessedCount returns the total number of completely decoded images.
func (p *Processor) ProcessedCount() int64 { return atomic.LoadInt64(&p.processedCount) }

// ErrorCount returns the total number of sessions that did not complete.
func (p *Processor) ErrorCount() int64 { return atomic.LoadInt64(&p.errorCount) }

// contextSource reports disconnected once ctx is done.  This is how timeouts
// reach a read loop that has no cancellation of its own.
type contextSource struct {
	ctx context.Context
	src Source
}

func (c *contextSource) Available() int             { return c.src.Available() }
func (c *contextSource) Read(p []byte) (int, error) { return c.src.Read(p) }

func (c *contextSource) Connected() bool {
	return c.ctx.Err() == nil && c.src.Connected()
}

func (c *contextSource) EOF() bool {
	if r, ok := c.src.(EOFReporter); ok {
		return r.EOF()
	}
	return false
}

func (c *contextSource) Window() int {
	if w, ok := c.src.(Windowed); ok {
		return w.Window()
	}
	return 0
}
