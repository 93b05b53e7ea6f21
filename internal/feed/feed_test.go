package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/earnings-feed/internal/model"
)

type recorder struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (r *recorder) HandleMessages(msgs []model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msgs...)
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ids(r.msgs)
}

func startFeed(t *testing.T, cfg Config, opts Options) *Feed {
	t.Helper()
	f := New(cfg, opts)
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		f.Stop(ctx)
	})
	return f
}

// waitFor polls the published view until cond holds.
func waitFor(t *testing.T, f *Feed, cond func(*View) bool) *View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v := f.View(); cond(v) {
			return v
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met, last view: %+v", f.View())
	return nil
}

func TestFeed_NotStarted(t *testing.T) {
	f := New(DefaultConfig(), Options{})
	if err := f.Push(context.Background(), model.Message{ID: "x"}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Push() error = %v, want ErrNotStarted", err)
	}
	if v := f.View(); v == nil || len(v.Items) != 0 {
		t.Errorf("initial View() = %+v, want empty view", v)
	}
}

func TestFeed_SnapshotPushAndDecay(t *testing.T) {
	ingest := &recorder{}
	arrivals := &recorder{}

	cfg := DefaultConfig()
	cfg.HighlightWindow = 300 * time.Millisecond
	f := startFeed(t, cfg, Options{OnIngest: ingest, OnArrival: arrivals})
	ctx := context.Background()

	now := time.Now()
	if err := f.ApplySnapshot(ctx, 1, []model.Message{
		{ID: "a", Ticker: "A", Timestamp: now.Add(-time.Hour)},
	}); err != nil {
		t.Fatalf("ApplySnapshot() error = %v", err)
	}
	waitFor(t, f, func(v *View) bool { return v.Baselined })

	if err := f.Push(ctx, model.Message{ID: "b", Ticker: "B", Timestamp: now}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	v := waitFor(t, f, func(v *View) bool { return len(v.Highlighted) == 1 })
	if v.Highlighted[0] != "b" {
		t.Errorf("Highlighted = %v, want [b]", v.Highlighted)
	}
	if len(v.Items) != 2 || v.Items[0].ID != "b" {
		t.Errorf("Items = %v, want [b a]", idsOf(v.Items))
	}

	waitFor(t, f, func(v *View) bool { return len(v.Highlighted) == 0 })

	if got := ingest.ids(); !equalIDs(got, []string{"a", "b"}) {
		t.Errorf("ingested = %v, want [a b]", got)
	}
	if got := arrivals.ids(); !equalIDs(got, []string{"b"}) {
		t.Errorf("arrivals = %v, want [b]", got)
	}
}

func TestFeed_StaleSnapshotIgnored(t *testing.T) {
	f := startFeed(t, DefaultConfig(), Options{})
	ctx := context.Background()

	f.ApplySnapshot(ctx, 5, []model.Message{{ID: "new", Ticker: "N", Timestamp: time.Now()}})
	f.ApplySnapshot(ctx, 3, []model.Message{{ID: "old", Ticker: "O", Timestamp: time.Now()}})
	f.Push(ctx, model.Message{ID: "marker", Ticker: "M", Timestamp: time.Now()})

	v := waitFor(t, f, func(v *View) bool { return v.Known == 2 })
	for _, it := range v.Items {
		if it.ID == "old" {
			t.Error("stale snapshot applied")
		}
	}
	if v.SnapshotSeq != 5 {
		t.Errorf("SnapshotSeq = %d, want 5", v.SnapshotSeq)
	}
}

func TestFeed_ResetAndPushState(t *testing.T) {
	f := startFeed(t, DefaultConfig(), Options{})
	ctx := context.Background()

	f.ApplySnapshot(ctx, 1, []model.Message{{ID: "a", Ticker: "A", Timestamp: time.Now()}})
	f.Push(ctx, model.Message{ID: "b", Ticker: "B", Timestamp: time.Now()})
	waitFor(t, f, func(v *View) bool { return len(v.Highlighted) == 1 })

	if err := f.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	v := f.View()
	if v.Baselined || v.Seen != 0 || len(v.Highlighted) != 0 {
		t.Errorf("after Reset: baselined=%v seen=%d highlighted=%v", v.Baselined, v.Seen, v.Highlighted)
	}
	if v.Known != 2 {
		t.Errorf("Known = %d, want 2", v.Known)
	}

	f.SetPushState("connected")
	waitFor(t, f, func(v *View) bool { return v.PushState == "connected" })
}

func TestFeed_Subscribe(t *testing.T) {
	f := startFeed(t, DefaultConfig(), Options{})

	ch, unsubscribe := f.Subscribe()
	defer unsubscribe()

	select {
	case v := <-ch:
		if v == nil {
			t.Fatal("initial view is nil")
		}
	case <-time.After(time.Second):
		t.Fatal("no initial view")
	}

	f.Push(context.Background(), model.Message{ID: "a", Ticker: "A", Timestamp: time.Now()})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-ch:
			if v.Known == 1 {
				return
			}
		case <-deadline:
			t.Fatal("subscriber never saw the push")
		}
	}
}

func TestFeed_StopClosesSubscribers(t *testing.T) {
	f := New(DefaultConfig(), Options{})
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ch, unsubscribe := f.Subscribe()
	<-ch

	if err := f.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel still open after Stop")
	}
	unsubscribe()

	if err := f.Push(context.Background(), model.Message{ID: "x"}); !errors.Is(err, ErrStopped) {
		t.Errorf("Push() after Stop error = %v, want ErrStopped", err)
	}
}
