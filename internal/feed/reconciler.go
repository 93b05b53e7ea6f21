package feed

import (
	"time"

	"github.com/rickgao/earnings-feed/internal/model"
	"github.com/rickgao/earnings-feed/internal/preview"
)

// Config holds reconciler configuration.
type Config struct {
	HighlightWindow time.Duration // How long new arrivals stay highlighted (default: 60s)
	MaxMessages     int           // Known-set bound, oldest dropped first (default: 500)
	PreviewLength   int           // Plain text preview length in runes (default: 160)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HighlightWindow: DefaultHighlightWindow,
		MaxMessages:     500,
		PreviewLength:   preview.DefaultLength,
	}
}

// Item is one display-ready feed entry.
type Item struct {
	model.Message
	Subject     string          `json:"subject"`
	Preview     preview.Preview `json:"preview"`
	Highlighted bool            `json:"highlighted"`
}

// View is an immutable rendering of the feed at one moment.
type View struct {
	Items        []Item    `json:"items"`
	Highlighted  []string  `json:"highlighted"`
	Known        int       `json:"known"`
	Seen         int       `json:"seen"`
	Baselined    bool      `json:"baselined"`
	SnapshotSeq  uint64    `json:"snapshot_seq"`
	LastSnapshot time.Time `json:"last_snapshot,omitzero"`
	PushState    string    `json:"push_state,omitempty"`
	GeneratedAt  time.Time `json:"generated_at"`
}

type knownMessage struct {
	msg     model.Message
	preview preview.Preview
}

// Reconciler folds snapshots and push messages into the known set and tracks
// new arrivals. It is not safe for concurrent use.
type Reconciler struct {
	cfg     Config
	known   map[string]knownMessage
	tracker *Tracker

	lastSeq      uint64
	lastSnapshot time.Time
}

// NewReconciler creates an empty Reconciler.
func NewReconciler(cfg Config) *Reconciler {
	def := DefaultConfig()
	if cfg.HighlightWindow <= 0 {
		cfg.HighlightWindow = def.HighlightWindow
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = def.MaxMessages
	}
	return &Reconciler{
		cfg:     cfg,
		known:   make(map[string]knownMessage),
		tracker: NewTracker(cfg.HighlightWindow),
	}
}

// Result describes what a merge changed.
type Result struct {
	Added []model.Message // Not previously in the known set
	Fresh []model.Message // Genuinely new arrivals, highlighted
}

// ApplySnapshot merges a snapshot issued with sequence seq. Snapshots issued
// before the last applied one are stale and ignored; applied reports whether
// msgs were used.
//
// A snapshot covers the upstream window from its oldest message onwards. Known
// messages older than that window which the snapshot no longer lists are
// dropped; anything newer is kept, since push may have delivered it first.
func (r *Reconciler) ApplySnapshot(seq uint64, msgs []model.Message, now time.Time) (res Result, applied bool) {
	if seq <= r.lastSeq {
		return Result{}, false
	}
	r.lastSeq = seq
	r.lastSnapshot = now

	res = r.merge(msgs, now)
	r.evictBefore(msgs)
	return res, true
}

// evictBefore drops known messages that are absent from msgs and older than
// its oldest entry. Dropped ids stay seen.
func (r *Reconciler) evictBefore(msgs []model.Message) {
	var oldest time.Time
	listed := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		listed[m.ID] = struct{}{}
		if oldest.IsZero() || m.Timestamp.Before(oldest) {
			oldest = m.Timestamp
		}
	}
	if len(listed) == 0 {
		return
	}
	for id, k := range r.known {
		if _, ok := listed[id]; ok {
			continue
		}
		if k.msg.Timestamp.Before(oldest) {
			delete(r.known, id)
		}
	}
}

// Push merges one push-delivered message.
func (r *Reconciler) Push(msg model.Message, now time.Time) Result {
	return r.merge([]model.Message{msg}, now)
}

func (r *Reconciler) merge(msgs []model.Message, now time.Time) Result {
	var res Result
	ids := make([]string, 0, len(msgs))
	byID := make(map[string]model.Message, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if _, dup := byID[m.ID]; !dup {
			ids = append(ids, m.ID)
		}
		byID[m.ID] = m
		if r.store(m) {
			res.Added = append(res.Added, m)
		}
	}
	r.trim()

	for _, id := range r.tracker.Observe(ids, now) {
		res.Fresh = append(res.Fresh, byID[id])
	}
	return res
}

// store records m and reports whether its id was not known before.
func (r *Reconciler) store(m model.Message) bool {
	k, ok := r.known[m.ID]
	if ok && k.msg.Content == m.Content {
		k.msg = m
		r.known[m.ID] = k
		return false
	}
	r.known[m.ID] = knownMessage{msg: m, preview: preview.Parse(m.Content, r.cfg.PreviewLength)}
	return !ok
}

// trim drops the oldest known messages beyond MaxMessages. Dropped ids stay
// seen.
func (r *Reconciler) trim() {
	if len(r.known) <= r.cfg.MaxMessages {
		return
	}
	all := r.messages()
	sortNewestFirst(all)
	for _, m := range all[r.cfg.MaxMessages:] {
		delete(r.known, m.ID)
	}
}

// Expire ends highlights whose window has elapsed and returns their ids.
func (r *Reconciler) Expire(now time.Time) []string {
	return r.tracker.Expire(now)
}

// NextExpiry returns when the earliest highlight ends.
func (r *Reconciler) NextExpiry() (time.Time, bool) {
	return r.tracker.NextExpiry()
}

// Reset starts a new view session. Known messages are kept; seen and
// highlighted state is cleared and the next observation is a new baseline.
func (r *Reconciler) Reset() {
	r.tracker.Reset()
}

// Tracker exposes the session tracker for inspection.
func (r *Reconciler) Tracker() *Tracker { return r.tracker }

// Get returns a known message by id.
func (r *Reconciler) Get(id string) (model.Message, bool) {
	k, ok := r.known[id]
	return k.msg, ok
}

// View renders the current state.
func (r *Reconciler) View(now time.Time) View {
	display := Dedupe(r.messages())

	items := make([]Item, 0, len(display))
	for _, m := range display {
		items = append(items, Item{
			Message:     m,
			Subject:     m.Subject(),
			Preview:     r.known[m.ID].preview,
			Highlighted: r.tracker.Highlighted(m.ID),
		})
	}

	return View{
		Items:        items,
		Highlighted:  r.tracker.Highlights(),
		Known:        len(r.known),
		Seen:         r.tracker.SeenCount(),
		Baselined:    r.tracker.Baselined(),
		SnapshotSeq:  r.lastSeq,
		LastSnapshot: r.lastSnapshot,
		GeneratedAt:  now,
	}
}

func (r *Reconciler) messages() []model.Message {
	out := make([]model.Message, 0, len(r.known))
	for _, k := range r.known {
		out = append(out, k.msg)
	}
	return out
}
