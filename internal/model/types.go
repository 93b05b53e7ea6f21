package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Feed Types
// -----------------------------------------------------------------------------

// Message is a notification about a company's earnings, delivered either by a
// REST snapshot or over the push channel.
type Message struct {
	ID        string    `json:"id"`        // Server-assigned, globally unique
	Ticker    string    `json:"ticker"`    // Company ticker (e.g., "AAPL")
	Year      int       `json:"year"`      // Reporting year, 0 if unknown
	Quarter   int       `json:"quarter"`   // Reporting quarter 1-4, 0 if unknown
	Timestamp time.Time `json:"timestamp"` // When the message was generated
	Link      string    `json:"link"`      // External reference (press release URL), empty for content messages
	Content   string    `json:"content"`   // Raw text or a JSON-encoded comparison payload
}

// HasLink reports whether the message points at an external reference rather
// than carrying embedded content.
func (m Message) HasLink() bool {
	return strings.TrimSpace(m.Link) != ""
}

// Subject returns the grouping key used for deduplication: the ticker, plus
// the reporting period when both year and quarter are known.
func (m Message) Subject() string {
	if m.Year > 0 && m.Quarter > 0 {
		return m.Ticker + ":" + strconv.Itoa(m.Year) + "Q" + strconv.Itoa(m.Quarter)
	}
	return m.Ticker
}

// -----------------------------------------------------------------------------
// Resource Types
// -----------------------------------------------------------------------------

// EarningsItem is a scheduled earnings announcement.
type EarningsItem struct {
	Ticker string          `json:"ticker"`
	Date   string          `json:"date"`           // Announcement date (YYYY-MM-DD)
	Time   string          `json:"time,omitempty"` // "bmo", "amc" or a clock time, as reported upstream
	Raw    json.RawMessage `json:"raw"`            // Full upstream document
}

// HistoricalMetrics holds a company's historical figures around an earnings date.
type HistoricalMetrics struct {
	Ticker string          `json:"ticker"`
	Date   string          `json:"date"`
	Raw    json.RawMessage `json:"raw"`
}

// CompanyConfig is the per-company scraping configuration edited by operators.
type CompanyConfig struct {
	Ticker string          `json:"ticker"`
	Raw    json.RawMessage `json:"raw"`
}
