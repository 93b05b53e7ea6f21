package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/earnings-feed/internal/clock"
	"github.com/rickgao/earnings-feed/internal/model"
)

var (
	ErrNotStarted = errors.New("feed not started")
	ErrStopped    = errors.New("feed stopped")
)

// MessageHandler receives batches of messages from the feed loop. Handlers run
// on the loop goroutine and must not block.
type MessageHandler interface {
	HandleMessages(msgs []model.Message)
}

// MessageHandlerFunc is a function adapter for MessageHandler.
type MessageHandlerFunc func([]model.Message)

func (f MessageHandlerFunc) HandleMessages(msgs []model.Message) {
	f(msgs)
}

// Options wires optional collaborators into a Feed.
type Options struct {
	Clock  clock.Clock
	Logger *slog.Logger

	// OnIngest receives messages the first time they enter the known set.
	OnIngest MessageHandler
	// OnArrival receives genuinely new messages, after the baseline.
	OnArrival MessageHandler
}

type snapshotEvent struct {
	seq  uint64
	msgs []model.Message
}

// Feed runs a Reconciler on its own goroutine and publishes a View after every
// change.
type Feed struct {
	rec    *Reconciler
	clock  clock.Clock
	logger *slog.Logger
	opts   Options

	snapshots chan snapshotEvent
	pushes    chan model.Message
	states    chan string
	resets    chan chan struct{}

	view      atomic.Pointer[View]
	pushState string

	subsMu  sync.Mutex
	subs    map[int]chan *View
	nextSub int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Feed. Call Start before submitting messages.
func New(cfg Config, opts Options) *Feed {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	f := &Feed{
		rec:       NewReconciler(cfg),
		clock:     opts.Clock,
		logger:    opts.Logger,
		opts:      opts,
		snapshots: make(chan snapshotEvent, 4),
		pushes:    make(chan model.Message, 256),
		states:    make(chan string, 16),
		resets:    make(chan chan struct{}),
		subs:      make(map[int]chan *View),
	}
	v := f.rec.View(f.clock.Now())
	f.view.Store(&v)
	return f
}

// Start begins the event loop.
func (f *Feed) Start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(1)
	go f.run()

	f.logger.Info("feed started",
		"highlight_window", f.rec.cfg.HighlightWindow,
		"max_messages", f.rec.cfg.MaxMessages,
	)
	return nil
}

// Stop shuts down the event loop and closes subscriber channels.
func (f *Feed) Stop(ctx context.Context) error {
	if f.cancel != nil {
		f.cancel()
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	f.subsMu.Lock()
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
	f.subsMu.Unlock()

	f.logger.Info("feed stopped")
	return nil
}

// ApplySnapshot queues a snapshot issued with sequence seq.
func (f *Feed) ApplySnapshot(ctx context.Context, seq uint64, msgs []model.Message) error {
	return send(ctx, f, f.snapshots, snapshotEvent{seq: seq, msgs: msgs})
}

// Push queues one push-delivered message.
func (f *Feed) Push(ctx context.Context, msg model.Message) error {
	return send(ctx, f, f.pushes, msg)
}

// SetPushState records the push connection state shown in the view.
func (f *Feed) SetPushState(state string) {
	if f.ctx == nil {
		return
	}
	select {
	case f.states <- state:
	case <-f.ctx.Done():
	}
}

// Reset starts a new view session and waits until the loop has applied it.
func (f *Feed) Reset(ctx context.Context) error {
	ack := make(chan struct{})
	if err := send(ctx, f, f.resets, ack); err != nil {
		return err
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-f.ctx.Done():
		return ErrStopped
	}
}

func send[T any](ctx context.Context, f *Feed, ch chan T, v T) error {
	if f.ctx == nil {
		return ErrNotStarted
	}
	if f.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-f.ctx.Done():
		return ErrStopped
	}
}

// View returns the latest published view. It never blocks.
func (f *Feed) View() *View {
	return f.view.Load()
}

// Subscribe returns a channel that receives each newly published view. Slow
// subscribers only see the latest one. Call the returned func to unsubscribe.
func (f *Feed) Subscribe() (<-chan *View, func()) {
	ch := make(chan *View, 1)

	f.subsMu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = ch
	ch <- f.View()
	f.subsMu.Unlock()

	return ch, func() {
		f.subsMu.Lock()
		defer f.subsMu.Unlock()
		if c, ok := f.subs[id]; ok {
			close(c)
			delete(f.subs, id)
		}
	}
}

// run is the event loop. All Reconciler access happens here.
func (f *Feed) run() {
	defer f.wg.Done()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	rearm := func() {
		if timer != nil {
			timer.Stop()
		}
		next, ok := f.rec.NextExpiry()
		if !ok {
			timer, timerC = nil, nil
			return
		}
		d := next.Sub(f.clock.Now())
		if d < 0 {
			d = 0
		}
		timer = time.NewTimer(d)
		timerC = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		var ack chan struct{}

		select {
		case <-f.ctx.Done():
			return

		case ev := <-f.snapshots:
			f.handleSnapshot(ev)

		case msg := <-f.pushes:
			f.handlePush(msg)

		case state := <-f.states:
			if state == f.pushState {
				continue
			}
			f.pushState = state

		case ack = <-f.resets:
			f.rec.Reset()
			f.logger.Info("feed session reset")

		case <-timerC:
			if expired := f.rec.Expire(f.clock.Now()); len(expired) > 0 {
				f.logger.Debug("highlights expired", "ids", expired)
			}
		}

		rearm()
		f.publish()

		// Acknowledge a reset only once its view is visible.
		if ack != nil {
			close(ack)
		}
	}
}

func (f *Feed) handleSnapshot(ev snapshotEvent) {
	now := f.clock.Now()
	wasBaselined := f.rec.Tracker().Baselined()

	res, applied := f.rec.ApplySnapshot(ev.seq, ev.msgs, now)
	if !applied {
		f.logger.Debug("stale snapshot dropped", "seq", ev.seq, "last_seq", f.rec.lastSeq)
		return
	}
	f.rec.Expire(now)

	f.logger.Debug("snapshot applied",
		"seq", ev.seq,
		"messages", len(ev.msgs),
		"added", len(res.Added),
		"new", len(res.Fresh),
		"baseline", !wasBaselined && f.rec.Tracker().Baselined(),
	)
	f.dispatch(res)
}

func (f *Feed) handlePush(msg model.Message) {
	if msg.ID == "" {
		f.logger.Warn("push message without id dropped", "ticker", msg.Ticker)
		return
	}
	now := f.clock.Now()
	res := f.rec.Push(msg, now)
	f.rec.Expire(now)

	f.logger.Debug("push message applied",
		"id", msg.ID,
		"ticker", msg.Ticker,
		"new", len(res.Fresh) > 0,
	)
	f.dispatch(res)
}

func (f *Feed) dispatch(res Result) {
	if f.opts.OnIngest != nil && len(res.Added) > 0 {
		f.opts.OnIngest.HandleMessages(res.Added)
	}
	if f.opts.OnArrival != nil && len(res.Fresh) > 0 {
		f.opts.OnArrival.HandleMessages(res.Fresh)
	}
}

func (f *Feed) publish() {
	v := f.rec.View(f.clock.Now())
	v.PushState = f.pushState
	f.view.Store(&v)

	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- &v
	}
}

// Message looks up a displayed message by id in the latest view.
func (f *Feed) Message(id string) (model.Message, bool) {
	for _, it := range f.View().Items {
		if it.ID == id {
			return it.Message, true
		}
	}
	return model.Message{}, false
}
