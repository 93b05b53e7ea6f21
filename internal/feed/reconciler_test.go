package feed

import (
	"fmt"
	"testing"

	"github.com/rickgao/earnings-feed/internal/model"
	"github.com/rickgao/earnings-feed/internal/preview"
)

func TestReconciler_BaselineThenNewArrival(t *testing.T) {
	r := NewReconciler(DefaultConfig())

	a := model.Message{ID: "a", Ticker: "X", Timestamp: at(100)}
	b := model.Message{ID: "b", Ticker: "X", Timestamp: at(200)}

	res, applied := r.ApplySnapshot(1, []model.Message{a}, epoch)
	if !applied {
		t.Fatal("first snapshot not applied")
	}
	if len(res.Fresh) != 0 {
		t.Errorf("baseline fresh = %v, want none", ids(res.Fresh))
	}
	if len(res.Added) != 1 {
		t.Errorf("baseline added = %v, want [a]", ids(res.Added))
	}

	res, _ = r.ApplySnapshot(2, []model.Message{a, b}, at(1))
	if !equalIDs(ids(res.Fresh), []string{"b"}) {
		t.Errorf("fresh = %v, want [b]", ids(res.Fresh))
	}

	v := r.View(at(1))
	if !equalIDs(v.Highlighted, []string{"b"}) {
		t.Errorf("Highlighted = %v, want [b]", v.Highlighted)
	}
	if len(v.Items) != 1 || v.Items[0].ID != "b" || !v.Items[0].Highlighted {
		t.Errorf("Items = %+v, want highlighted b only", v.Items)
	}

	r.Expire(at(61))
	v = r.View(at(61))
	if len(v.Highlighted) != 0 {
		t.Errorf("Highlighted after 60s = %v, want empty", v.Highlighted)
	}
	if v.Items[0].Highlighted {
		t.Error("item still highlighted after 60s")
	}
}

func TestReconciler_StaleSnapshotDropped(t *testing.T) {
	r := NewReconciler(DefaultConfig())

	newer := []model.Message{{ID: "n", Ticker: "N", Timestamp: at(10)}}
	older := []model.Message{{ID: "o", Ticker: "O", Timestamp: at(5)}}

	if _, applied := r.ApplySnapshot(2, newer, epoch); !applied {
		t.Fatal("seq 2 not applied")
	}
	if _, applied := r.ApplySnapshot(1, older, at(1)); applied {
		t.Error("seq 1 applied after seq 2")
	}
	if _, applied := r.ApplySnapshot(2, older, at(1)); applied {
		t.Error("seq 2 applied twice")
	}
	if _, ok := r.Get("o"); ok {
		t.Error("stale snapshot content reached the known set")
	}
	if v := r.View(at(1)); v.SnapshotSeq != 2 || !v.LastSnapshot.Equal(epoch) {
		t.Errorf("SnapshotSeq = %d, LastSnapshot = %v", v.SnapshotSeq, v.LastSnapshot)
	}
}

func TestReconciler_PushAndSnapshotIdempotent(t *testing.T) {
	r := NewReconciler(DefaultConfig())
	r.ApplySnapshot(1, []model.Message{{ID: "a", Ticker: "A", Timestamp: at(1)}}, epoch)

	m := model.Message{ID: "p", Ticker: "P", Timestamp: at(2)}
	if res := r.Push(m, at(2)); len(res.Fresh) != 1 || len(res.Added) != 1 {
		t.Fatalf("first push = %+v, want fresh and added", res)
	}
	if res := r.Push(m, at(3)); len(res.Fresh) != 0 || len(res.Added) != 0 {
		t.Errorf("repeat push = %+v, want no change", res)
	}

	res, _ := r.ApplySnapshot(2, []model.Message{
		{ID: "a", Ticker: "A", Timestamp: at(1)},
		m,
	}, at(4))
	if len(res.Fresh) != 0 || len(res.Added) != 0 {
		t.Errorf("snapshot repeating push = %+v, want no change", res)
	}

	v := r.View(at(4))
	if v.Known != 2 {
		t.Errorf("Known = %d, want 2", v.Known)
	}
}

func TestReconciler_PushCanBaseline(t *testing.T) {
	r := NewReconciler(DefaultConfig())

	res := r.Push(model.Message{ID: "first", Ticker: "X", Timestamp: at(1)}, epoch)
	if len(res.Fresh) != 0 {
		t.Errorf("first push highlighted: %v", ids(res.Fresh))
	}
	if !r.Tracker().Baselined() {
		t.Error("push did not establish baseline")
	}
}

func TestReconciler_SnapshotsMerge(t *testing.T) {
	r := NewReconciler(DefaultConfig())
	r.ApplySnapshot(1, []model.Message{{ID: "a", Ticker: "A", Timestamp: at(3)}}, epoch)
	r.ApplySnapshot(2, []model.Message{{ID: "b", Ticker: "B", Timestamp: at(2)}}, at(1))

	v := r.View(at(1))
	if !equalIDs(idsOf(v.Items), []string{"a", "b"}) {
		t.Errorf("Items = %v, want [a b]", idsOf(v.Items))
	}
}

func TestReconciler_SnapshotDropsMessagesBehindItsWindow(t *testing.T) {
	r := NewReconciler(DefaultConfig())
	r.ApplySnapshot(1, []model.Message{
		{ID: "old", Ticker: "O", Timestamp: at(1)},
		{ID: "mid", Ticker: "M", Timestamp: at(2)},
	}, epoch)
	r.Push(model.Message{ID: "pushed", Ticker: "P", Timestamp: at(5)}, at(1))

	// Upstream no longer lists "old"; "pushed" is newer than the snapshot.
	res, _ := r.ApplySnapshot(2, []model.Message{
		{ID: "mid", Ticker: "M", Timestamp: at(2)},
		{ID: "late", Ticker: "L", Timestamp: at(3)},
	}, at(2))

	v := r.View(at(2))
	if !equalIDs(idsOf(v.Items), []string{"pushed", "late", "mid"}) {
		t.Errorf("Items = %v, want [pushed late mid]", idsOf(v.Items))
	}
	if _, ok := r.Get("old"); ok {
		t.Error("message behind the snapshot window still known")
	}
	if !equalIDs(ids(res.Fresh), []string{"late"}) {
		t.Errorf("fresh = %v, want [late]", ids(res.Fresh))
	}

	// An empty snapshot says nothing about the window.
	r.ApplySnapshot(3, nil, at(3))
	if v := r.View(at(3)); v.Known != 3 {
		t.Errorf("Known after empty snapshot = %d, want 3", v.Known)
	}

	// Dropped ids stay seen.
	res, _ = r.ApplySnapshot(4, []model.Message{{ID: "old", Ticker: "O", Timestamp: at(1)}}, at(4))
	if len(res.Fresh) != 0 {
		t.Errorf("dropped id came back as new: %v", ids(res.Fresh))
	}
}

func TestReconciler_MaxMessages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMessages = 3
	r := NewReconciler(cfg)

	var msgs []model.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, model.Message{
			ID:        fmt.Sprintf("m%d", i),
			Ticker:    fmt.Sprintf("T%d", i),
			Timestamp: at(i),
		})
	}
	r.ApplySnapshot(1, msgs, epoch)

	v := r.View(epoch)
	if v.Known != 3 {
		t.Fatalf("Known = %d, want 3", v.Known)
	}
	if !equalIDs(idsOf(v.Items), []string{"m4", "m3", "m2"}) {
		t.Errorf("Items = %v, want newest three", idsOf(v.Items))
	}

	// Trimmed ids stay seen, so reappearing is not new.
	res, _ := r.ApplySnapshot(2, msgs[:1], at(1))
	if len(res.Fresh) != 0 {
		t.Errorf("trimmed id came back as new: %v", ids(res.Fresh))
	}
}

func TestReconciler_Previews(t *testing.T) {
	r := NewReconciler(Config{PreviewLength: 10})
	r.ApplySnapshot(1, []model.Message{
		{ID: "p", Ticker: "P", Timestamp: at(2), Content: "**Revenue** beat by a wide margin"},
		{ID: "s", Ticker: "S", Timestamp: at(1), Content: `{"current_quarter_vs_expected":{"eps":{"value":"1.1","expected":"1.0"}}}`},
	}, epoch)

	v := r.View(epoch)
	if len(v.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(v.Items))
	}
	if p := v.Items[0].Preview; p.Kind != preview.KindPlain || p.Text != "Revenue b…" {
		t.Errorf("plain preview = %+v", p)
	}
	if p := v.Items[1].Preview; p.Kind != preview.KindStructured || len(p.Sections) != 1 {
		t.Errorf("structured preview = %+v", p)
	}

	// Content change refreshes the preview.
	r.Push(model.Message{ID: "p", Ticker: "P", Timestamp: at(2), Content: "short"}, at(1))
	if p := r.View(at(1)).Items[0].Preview; p.Text != "short" {
		t.Errorf("preview after update = %q, want %q", p.Text, "short")
	}
}

func TestReconciler_ResetKeepsMessages(t *testing.T) {
	r := NewReconciler(DefaultConfig())
	r.ApplySnapshot(1, []model.Message{{ID: "a", Ticker: "A", Timestamp: at(1)}}, epoch)
	r.Push(model.Message{ID: "b", Ticker: "B", Timestamp: at(2)}, at(1))

	r.Reset()

	v := r.View(at(2))
	if v.Known != 2 || v.Seen != 0 || v.Baselined || len(v.Highlighted) != 0 {
		t.Errorf("view after Reset = known %d seen %d baselined %v highlighted %v",
			v.Known, v.Seen, v.Baselined, v.Highlighted)
	}

	res, _ := r.ApplySnapshot(2, []model.Message{{ID: "c", Ticker: "C", Timestamp: at(3)}}, at(3))
	if len(res.Fresh) != 0 {
		t.Errorf("first snapshot after reset highlighted %v", ids(res.Fresh))
	}
}

func TestReconciler_IgnoresMessagesWithoutID(t *testing.T) {
	r := NewReconciler(DefaultConfig())
	r.ApplySnapshot(1, []model.Message{{Ticker: "X", Timestamp: at(1)}}, epoch)
	if v := r.View(epoch); v.Known != 0 || v.Baselined {
		t.Errorf("known = %d baselined = %v, want empty", v.Known, v.Baselined)
	}
}

func idsOf(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
