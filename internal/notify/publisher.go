package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rickgao/earnings-feed/internal/model"
	"github.com/rickgao/earnings-feed/internal/preview"
)

// Config holds publisher settings.
type Config struct {
	Brokers      []string
	Topic        string
	Source       string // Instance id stamped on every event
	BatchTimeout time.Duration
	BufferSize   int
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults. Brokers must still be set.
func DefaultConfig() Config {
	return Config{
		Topic:        "earnings.new-arrivals",
		Source:       "feedwatch",
		BatchTimeout: 50 * time.Millisecond,
		BufferSize:   1000,
		WriteTimeout: 10 * time.Second,
	}
}

// Event is the JSON value of each Kafka message.
type Event struct {
	ID          string    `json:"id"`
	Ticker      string    `json:"ticker"`
	Subject     string    `json:"subject"`
	Year        int       `json:"year,omitempty"`
	Quarter     int       `json:"quarter,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Link        string    `json:"link,omitempty"`
	Preview     string    `json:"preview,omitempty"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// Stats reports publisher counters.
type Stats struct {
	Published int64
	Failed    int64
	Dropped   int64
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher forwards new arrivals to a Kafka topic from its own goroutine.
type Publisher struct {
	cfg    Config
	writer messageWriter
	logger *slog.Logger
	now    func() time.Time

	queue chan model.Message

	mu    sync.Mutex
	stats Stats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPublisher creates a Publisher backed by a kafka-go Writer.
func NewPublisher(cfg Config, logger *slog.Logger) *Publisher {
	cfg = withDefaults(cfg)
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(cfg, w, logger)
}

func newPublisher(cfg Config, w messageWriter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = withDefaults(cfg)
	return &Publisher{
		cfg:    cfg,
		writer: w,
		logger: logger.With("component", "notify", "topic", cfg.Topic),
		now:    time.Now,
		queue:  make(chan model.Message, cfg.BufferSize),
	}
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.Source == "" {
		cfg.Source = def.Source
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = def.BatchTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return cfg
}

// HandleMessages queues arrivals without blocking the caller.
func (p *Publisher) HandleMessages(msgs []model.Message) {
	for _, m := range msgs {
		select {
		case p.queue <- m:
		default:
			p.mu.Lock()
			p.stats.Dropped++
			p.mu.Unlock()
			p.logger.Warn("notify queue full, dropping arrival", "id", m.ID, "ticker", m.Ticker)
		}
	}
}

// Start launches the publishing goroutine.
func (p *Publisher) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
	p.logger.Info("notify publisher started", "brokers", p.cfg.Brokers)
	return nil
}

// Stop publishes what is already queued, then closes the Kafka writer.
func (p *Publisher) Stop(ctx context.Context) error {
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
	case <-ctx.Done():
		return ctx.Err()
	}

	var pending []model.Message
drain:
	for {
		select {
		case m := <-p.queue:
			pending = append(pending, m)
		default:
			break drain
		}
	}
	if len(pending) > 0 {
		p.publish(ctx, pending)
	}

	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

// Stats returns a copy of the counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-p.queue:
			batch := []model.Message{m}
			// Pick up whatever else is already waiting.
		more:
			for len(batch) < p.cfg.BufferSize {
				select {
				case next := <-p.queue:
					batch = append(batch, next)
				default:
					break more
				}
			}

			writeCtx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
			p.publish(writeCtx, batch)
			cancel()
		}
	}
}

func (p *Publisher) publish(ctx context.Context, batch []model.Message) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, m := range batch {
		km, err := p.encode(m)
		if err != nil {
			p.logger.Error("encode arrival", "id", m.ID, "error", err)
			p.fail(1)
			continue
		}
		msgs = append(msgs, km)
	}
	if len(msgs) == 0 {
		return
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("kafka write", "count", len(msgs), "error", err)
		p.fail(int64(len(msgs)))
		return
	}

	p.mu.Lock()
	p.stats.Published += int64(len(msgs))
	p.mu.Unlock()
	p.logger.Debug("published arrivals", "count", len(msgs))
}

func (p *Publisher) fail(n int64) {
	p.mu.Lock()
	p.stats.Failed += n
	p.mu.Unlock()
}

func (p *Publisher) encode(m model.Message) (kafka.Message, error) {
	ev := Event{
		ID:          m.ID,
		Ticker:      m.Ticker,
		Subject:     m.Subject(),
		Year:        m.Year,
		Quarter:     m.Quarter,
		Timestamp:   m.Timestamp,
		Source:      p.cfg.Source,
		PublishedAt: p.now().UTC(),
	}
	if m.HasLink() {
		ev.Link = m.Link
	} else {
		ev.Preview = preview.Parse(m.Content, 0).String()
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(m.Ticker),
		Value: value,
		Time:  m.Timestamp,
	}, nil
}
