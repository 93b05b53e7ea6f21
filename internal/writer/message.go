package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/earnings-feed/internal/model"
)

const insertMessageSQL = `
	INSERT INTO feed_messages (id, ticker, year, quarter, ts, link, content, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO NOTHING
`

// MessageWriter consumes feed messages and writes them to feed_messages.
type MessageWriter struct {
	cfg    WriterConfig
	logger *slog.Logger
	now    func() time.Time

	// Input from the feed loop
	input chan model.Message

	// Database
	db BatchSender

	// Batching
	batch       []messageRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewMessageWriter creates a new MessageWriter.
func NewMessageWriter(cfg WriterConfig, db BatchSender, logger *slog.Logger) *MessageWriter {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return &MessageWriter{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "message_writer"),
		now:    time.Now,
		input:  make(chan model.Message, cfg.BufferSize),
		batch:  make([]messageRow, 0, cfg.BatchSize),
	}
}

// HandleMessages queues messages for archiving. It never blocks; messages
// that do not fit in the buffer are dropped and counted.
func (w *MessageWriter) HandleMessages(msgs []model.Message) {
	var dropped int64
	for _, m := range msgs {
		select {
		case w.input <- m:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		w.batchMu.Lock()
		w.metrics.Dropped += dropped
		w.batchMu.Unlock()
		w.logger.Warn("archive buffer full, dropping messages", "count", dropped)
	}
}

// Start begins consuming messages and writing to the database.
func (w *MessageWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("message writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer. Queued messages are flushed with
// ctx, so a short deadline may lose them.
func (w *MessageWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping message writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("message writer stop timed out")
		return ctx.Err()
	}

	// Drain what the consumer left behind, then final flush.
drain:
	for {
		select {
		case m := <-w.input:
			w.append(m)
		default:
			break drain
		}
	}
	w.flush(ctx)

	w.logger.Info("message writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *MessageWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *MessageWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case m := <-w.input:
			if w.append(m) {
				w.flush(w.ctx)
			}
		}
	}
}

func (w *MessageWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// append adds a message to the batch and reports whether it is full.
func (w *MessageWriter) append(m model.Message) bool {
	row := w.transform(m)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

func (w *MessageWriter) transform(m model.Message) messageRow {
	row := messageRow{
		ID:         m.ID,
		Ticker:     m.Ticker,
		Year:       m.Year,
		Quarter:    m.Quarter,
		Ts:         m.Timestamp.UTC(),
		Content:    m.Content,
		ReceivedAt: w.now().UTC(),
	}
	if m.HasLink() {
		link := m.Link
		row.Link = &link
	}
	return row
}

func (w *MessageWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]messageRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed messages",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *MessageWriter) batchInsert(ctx context.Context, rows []messageRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertMessageSQL, r.ID, r.Ticker, r.Year, r.Quarter, r.Ts, r.Link, r.Content, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
