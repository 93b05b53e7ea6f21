package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/earnings-feed/internal/model"
)

// Timestamp accepts an RFC 3339 string or unix milliseconds.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}

	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s", b)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

// MarshalJSON writes RFC 3339 with milliseconds.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// ParseTimestamp parses an RFC 3339 timestamp, a timezone-less ISO 8601
// timestamp (taken as UTC) or a decimal unix millisecond string.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// ToModel converts an APIMessage to model.Message.
func (m *APIMessage) ToModel() model.Message {
	var link string
	if m.Link != nil {
		link = *m.Link
	}
	return model.Message{
		ID:        m.ID,
		Ticker:    strings.ToUpper(strings.TrimSpace(m.Ticker)),
		Year:      m.Year,
		Quarter:   m.Quarter,
		Timestamp: m.Timestamp.Time,
		Link:      link,
		Content:   m.Content,
	}
}

// MessagesToModel converts a batch of wire messages.
func MessagesToModel(msgs []APIMessage) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].ToModel())
	}
	return out
}

// ToEarningsItems converts the raw earnings documents. Documents that are not
// JSON objects are skipped.
func (r *EarningsResponse) ToEarningsItems() []model.EarningsItem {
	items := make([]model.EarningsItem, 0, len(r.Earnings))
	for _, raw := range r.Earnings {
		var keys earningsKeys
		if err := json.Unmarshal(raw, &keys); err != nil {
			continue
		}
		items = append(items, model.EarningsItem{
			Ticker: strings.ToUpper(keys.Ticker),
			Date:   keys.Date,
			Time:   keys.Time,
			Raw:    raw,
		})
	}
	return items
}

// ParseFrame decodes a push channel frame.
func ParseFrame(data []byte) (PushFrame, error) {
	var f PushFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return PushFrame{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Type == FrameMessage && f.Msg == nil {
		return PushFrame{}, fmt.Errorf("message frame without msg")
	}
	return f, nil
}
