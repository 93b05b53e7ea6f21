package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/earnings-feed/internal/model"
)

// Source provides message snapshots.
type Source interface {
	// Messages may serve a cached snapshot.
	Messages(ctx context.Context) ([]model.Message, error)
	// RefreshMessages always goes upstream.
	RefreshMessages(ctx context.Context) ([]model.Message, error)
}

// Snapshot is one fetched message set.
type Snapshot struct {
	Seq       uint64 // Issue order, starting at 1
	Messages  []model.Message
	FetchedAt time.Time
	Forced    bool // Fetched by Refresh rather than the ticker
}

// SnapshotHandler receives fetched snapshots.
type SnapshotHandler interface {
	HandleSnapshot(ctx context.Context, snapshot Snapshot) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(context.Context, Snapshot) error

func (f SnapshotHandlerFunc) HandleSnapshot(ctx context.Context, s Snapshot) error {
	return f(ctx, s)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 2m)
	Timeout  time.Duration // Per-fetch timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 2 * time.Minute,
		Timeout:  10 * time.Second,
	}
}

// Stats summarises poller activity.
type Stats struct {
	Polls       int64     `json:"polls"`
	Failures    int64     `json:"failures"`
	LastSeq     uint64    `json:"last_seq"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

// Poller periodically fetches message snapshots.
type Poller struct {
	cfg     Config
	source  Source
	handler SnapshotHandler
	logger  *slog.Logger

	seq      atomic.Uint64
	polls    atomic.Int64
	failures atomic.Int64

	mu          sync.Mutex
	lastSuccess time.Time
	lastError   string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, source Source, handler SnapshotHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("snapshot poller started", "interval", p.cfg.Interval)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("snapshot poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh fetches a snapshot upstream now, bypassing the cache, and hands it
// to the handler before returning. It runs on the caller's goroutine and may
// overlap a scheduled poll; the sequence numbers order the results.
func (p *Poller) Refresh(ctx context.Context) error {
	return p.poll(ctx, true)
}

// Stats returns a snapshot of poller activity.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Polls:       p.polls.Load(),
		Failures:    p.failures.Load(),
		LastSeq:     p.seq.Load(),
		LastSuccess: p.lastSuccess,
		LastError:   p.lastError,
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.poll(p.ctx, false)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll(p.ctx, false)
		}
	}
}

// poll fetches one snapshot and hands it to the handler.
func (p *Poller) poll(ctx context.Context, forced bool) error {
	seq := p.seq.Add(1)
	start := time.Now()
	p.polls.Add(1)

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var (
		msgs []model.Message
		err  error
	)
	if forced {
		msgs, err = p.source.RefreshMessages(fetchCtx)
	} else {
		msgs, err = p.source.Messages(fetchCtx)
	}
	if err != nil {
		p.fail(seq, err)
		return err
	}

	snapshot := Snapshot{
		Seq:       seq,
		Messages:  msgs,
		FetchedAt: time.Now(),
		Forced:    forced,
	}
	if p.handler != nil {
		if err := p.handler.HandleSnapshot(ctx, snapshot); err != nil {
			p.fail(seq, err)
			return err
		}
	}

	p.mu.Lock()
	p.lastSuccess = snapshot.FetchedAt
	p.lastError = ""
	p.mu.Unlock()

	p.logger.Debug("snapshot fetched",
		"seq", seq,
		"messages", len(msgs),
		"forced", forced,
		"duration", time.Since(start),
	)
	return nil
}

func (p *Poller) fail(seq uint64, err error) {
	p.failures.Add(1)

	p.mu.Lock()
	p.lastError = err.Error()
	p.mu.Unlock()

	p.logger.Warn("failed to fetch snapshot",
		"seq", seq,
		"err", err,
	)
}
