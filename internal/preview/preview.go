// Package preview turns raw message content into the short previews shown in
// the feed.
//
// Content is either free text (often markdown, sometimes HTML) or a JSON
// comparison payload with current/next quarter actual-vs-expected figures.
// Parse tries the structured form first and falls back to plain text on any
// mismatch; it never fails.
package preview

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Kind tags which variant a Preview holds.
type Kind string

const (
	KindPlain      Kind = "plain"
	KindStructured Kind = "structured"
)

// Placeholder is shown for a structured payload in which every figure is missing.
const Placeholder = "No comparison data available"

// NoData is the sentinel upstream uses for a missing figure.
const NoData = "N/A"

// DefaultLength is the usual bound for a one-line plain preview, in runes.
const DefaultLength = 160

// Period names for structured sections.
const (
	PeriodCurrent = "current"
	PeriodNext    = "next"
)

// Preview is the tagged result of Parse.
type Preview struct {
	Kind     Kind      `json:"kind"`
	Text     string    `json:"text,omitempty"`     // Plain text, or Placeholder when Sections is empty
	Sections []Section `json:"sections,omitempty"` // Structured only
}

// Section is one reporting period of a structured preview.
type Section struct {
	Period string `json:"period"`
	Label  string `json:"label,omitempty"`
	Rows   []Row  `json:"rows"`
}

// Row compares one metric against consensus.
type Row struct {
	Metric   string `json:"metric"`
	Value    string `json:"value"`
	Expected string `json:"expected"`
}

// Parse builds the preview for raw content. maxLen bounds plain text previews
// in runes; maxLen <= 0 disables truncation.
func Parse(raw string, maxLen int) Preview {
	if p, ok := TryStructured(raw); ok {
		return p
	}
	if msg, ok := embeddedMessage(raw); ok {
		return Preview{Kind: KindPlain, Text: PlainText(msg, maxLen)}
	}
	return Preview{Kind: KindPlain, Text: PlainText(raw, maxLen)}
}

// comparisonPayload is the wire shape of structured content.
type comparisonPayload struct {
	Current *periodWire `json:"current_quarter_vs_expected"`
	Next    *periodWire `json:"next_quarter_vs_expected"`
}

type periodWire struct {
	Label   string      `json:"label"`
	EPS     *metricWire `json:"eps"`
	Revenue *metricWire `json:"revenue"`
	Sales   *metricWire `json:"sales"`
}

type metricWire struct {
	Value    figure `json:"value"`
	Expected figure `json:"expected"`
}

// figure accepts a JSON string, number or null.
type figure string

func (f *figure) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = figure(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = figure(n.String())
	return nil
}

// TryStructured parses raw as a comparison payload. It reports false when raw
// is not a JSON object carrying at least one period key of the expected shape.
func TryStructured(raw string) (Preview, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return Preview{}, false
	}

	var payload comparisonPayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return Preview{}, false
	}
	if payload.Current == nil && payload.Next == nil {
		return Preview{}, false
	}

	p := Preview{Kind: KindStructured}
	if s, ok := buildSection(PeriodCurrent, payload.Current); ok {
		p.Sections = append(p.Sections, s)
	}
	if s, ok := buildSection(PeriodNext, payload.Next); ok {
		p.Sections = append(p.Sections, s)
	}
	if len(p.Sections) == 0 {
		p.Text = Placeholder
	}
	return p, true
}

func buildSection(period string, w *periodWire) (Section, bool) {
	if w == nil {
		return Section{}, false
	}

	revenue := w.Revenue
	if revenue == nil {
		revenue = w.Sales
	}

	var rows []Row
	for _, m := range []struct {
		name string
		w    *metricWire
	}{
		{"EPS", w.EPS},
		{"Revenue", revenue},
	} {
		if m.w == nil {
			continue
		}
		value, expected := string(m.w.Value), string(m.w.Expected)
		if isNoData(value) && isNoData(expected) {
			continue
		}
		rows = append(rows, Row{Metric: m.name, Value: orNoData(value), Expected: orNoData(expected)})
	}

	if len(rows) == 0 {
		return Section{}, false
	}
	return Section{Period: period, Label: w.Label, Rows: rows}, true
}

func isNoData(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, NoData)
}

func orNoData(s string) string {
	if isNoData(s) {
		return NoData
	}
	return strings.TrimSpace(s)
}

// embeddedMessage extracts the text of a {"message": "..."} payload.
func embeddedMessage(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	var w struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil || w.Message == nil {
		return "", false
	}
	return *w.Message, true
}

// String renders a preview as a single line, for logs and notifications.
func (p Preview) String() string {
	if p.Kind != KindStructured || len(p.Sections) == 0 {
		return p.Text
	}
	var sb strings.Builder
	for i, s := range p.Sections {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(s.Period)
		if s.Label != "" {
			sb.WriteString(" (" + s.Label + ")")
		}
		sb.WriteString(":")
		for _, r := range s.Rows {
			sb.WriteString(" " + r.Metric + " " + r.Value + " vs " + r.Expected)
		}
	}
	return sb.String()
}
