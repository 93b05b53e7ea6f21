// Package model defines shared data types used across the earnings feed.
//
// Conventions:
//   - Timestamps: time.Time in UTC
//   - Dates: "2006-01-02" strings (earnings calendar days)
//   - Tickers: upper-case exchange symbols
//   - Resource payloads the service does not interpret are kept as json.RawMessage
package model
