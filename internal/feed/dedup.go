package feed

import (
	"slices"
	"strings"

	"github.com/rickgao/earnings-feed/internal/model"
)

// slots tracks which message kinds a subject has already retained.
type slots struct {
	link bool
	data bool
}

// Dedupe returns the display set for msgs: per subject, the newest link-style
// message and the newest content-style message. The result is ordered newest
// first, ties broken by id. Dedupe does not modify msgs.
func Dedupe(msgs []model.Message) []model.Message {
	sorted := slices.Clone(msgs)
	sortNewestFirst(sorted)

	taken := make(map[string]*slots, len(sorted))
	out := make([]model.Message, 0, len(sorted))
	for _, m := range sorted {
		subject := m.Subject()
		s := taken[subject]
		if s == nil {
			s = &slots{}
			taken[subject] = s
		}

		if m.HasLink() {
			if s.link {
				continue
			}
			s.link = true
		} else {
			if s.data {
				continue
			}
			s.data = true
		}
		out = append(out, m)
	}
	return out
}

func sortNewestFirst(msgs []model.Message) {
	slices.SortFunc(msgs, func(a, b model.Message) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
