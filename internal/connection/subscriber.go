package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/earnings-feed/internal/api"
	"github.com/rickgao/earnings-feed/internal/model"
)

// MessageHandler receives each push-delivered message. A message whose
// handler fails is not remembered, so a redelivery is handed over again.
type MessageHandler func(model.Message) error

// StateHandler receives connection state transitions.
type StateHandler func(State)

// Subscriber maintains the push channel connection while enabled.
type Subscriber struct {
	cfg       SubscriberConfig
	logger    *slog.Logger
	onMessage MessageHandler
	onState   StateHandler

	delivered *idRing

	mu      sync.Mutex
	parent  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	state   State
	enabled bool

	dial func(ClientConfig, *slog.Logger) Client
}

// NewSubscriber creates a disabled Subscriber. onState may be nil.
func NewSubscriber(cfg SubscriberConfig, onMessage MessageHandler, onState StateHandler, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultSubscriberConfig()
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = def.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait < cfg.ReconnectBaseWait {
		cfg.ReconnectMaxWait = cfg.ReconnectBaseWait
	}
	if cfg.DeliveredMemory <= 0 {
		cfg.DeliveredMemory = def.DeliveredMemory
	}

	return &Subscriber{
		cfg:       cfg,
		logger:    logger,
		onMessage: onMessage,
		onState:   onState,
		delivered: newIDRing(cfg.DeliveredMemory),
		state:     StateDisconnected,
		dial:      NewClient,
	}
}

// Start binds the subscriber to ctx. When enable is true the push channel is
// opened immediately.
func (s *Subscriber) Start(ctx context.Context, enable bool) error {
	s.mu.Lock()
	s.parent = ctx
	s.mu.Unlock()

	s.logger.Info("push subscriber started", "url", s.cfg.Client.URL, "enabled", enable)

	if enable {
		return s.Enable()
	}
	return nil
}

// Stop closes the push channel.
func (s *Subscriber) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.Disable()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("push subscriber stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enable opens the push channel. It is a no-op when already enabled.
func (s *Subscriber) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.parent == nil {
		return ErrNotStarted
	}
	if s.enabled {
		return nil
	}

	ctx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.enabled = true

	go s.run(ctx, s.done)

	s.logger.Info("push channel enabled")
	return nil
}

// Disable closes the push channel and waits for it to wind down. It is a
// no-op when already disabled.
func (s *Subscriber) Disable() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.setState(StateDisconnected)
	s.logger.Info("push channel disabled")
}

// Enabled reports whether the push channel is enabled.
func (s *Subscriber) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// State returns the current connection state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscriber) setState(st State) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	s.mu.Unlock()

	if changed && s.onState != nil {
		s.onState(st)
	}
}

// run dials, consumes and redials with exponential backoff until ctx ends.
func (s *Subscriber) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	wait := s.cfg.ReconnectBaseWait
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			s.setState(StateReconnecting)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			wait *= 2
			if wait > s.cfg.ReconnectMaxWait {
				wait = s.cfg.ReconnectMaxWait
			}
		}

		c := s.dial(s.cfg.Client, s.logger)
		if err := c.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("push connect failed",
				"attempt", attempt+1,
				"retry_in", wait,
				"error", err,
			)
			continue
		}

		wait = s.cfg.ReconnectBaseWait
		s.setState(StateConnected)
		s.logger.Info("push channel connected", "url", s.cfg.Client.URL)

		err := s.consume(ctx, c)
		c.Close()
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("push channel dropped", "error", err)
	}
}

// consume handles frames until the connection fails or ctx ends.
func (s *Subscriber) consume(ctx context.Context, c Client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-c.Errors():
			// Frames read before the failure are still buffered.
			for {
				select {
				case m := <-c.Messages():
					s.handleFrame(m)
				default:
					return err
				}
			}
		case m := <-c.Messages():
			s.handleFrame(m)
		}
	}
}

func (s *Subscriber) handleFrame(m TimestampedMessage) {
	frame, err := api.ParseFrame(m.Data)
	if err != nil {
		s.logger.Warn("invalid push frame", "error", err, "bytes", len(m.Data))
		return
	}

	switch frame.Type {
	case api.FrameHeartbeat:
		return
	case api.FrameMessage:
	default:
		s.logger.Debug("unknown push frame type", "type", frame.Type)
		return
	}

	msg := frame.Msg.ToModel()
	if msg.ID == "" {
		s.logger.Warn("push message without id", "ticker", msg.Ticker)
		return
	}
	if s.delivered.Contains(msg.ID) {
		s.logger.Debug("push message already delivered", "id", msg.ID)
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.ReceivedAt
	}

	if s.onMessage != nil {
		if err := s.onMessage(msg); err != nil {
			s.logger.Warn("push message not handed off", "id", msg.ID, "error", err)
			return
		}
	}
	s.delivered.Add(msg.ID)
}

// idRing remembers the last n ids added.
type idRing struct {
	mu   sync.Mutex
	ids  []string
	next int
	set  map[string]struct{}
}

func newIDRing(n int) *idRing {
	return &idRing{
		ids: make([]string, n),
		set: make(map[string]struct{}, n),
	}
}

// Contains reports whether id is remembered.
func (r *idRing) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.set[id]
	return ok
}

// Add records id and reports whether it was not already remembered.
func (r *idRing) Add(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.set[id]; ok {
		return false
	}
	if old := r.ids[r.next]; old != "" {
		delete(r.set, old)
	}
	r.ids[r.next] = id
	r.set[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ids)
	return true
}
