// Package api provides the client for the earnings backend REST API.
//
// Endpoints:
//   - GET  /messages                      notification snapshot
//   - GET  /earnings?date=YYYY-MM-DD      scheduled announcements
//   - GET  /historical/{ticker}?date=     historical metrics
//   - PUT  /historical/{ticker}?date=
//   - GET  /configs/{ticker}              per-company scraping config
//   - PUT  /configs/{ticker}
//
// The push channel (package connection) shares the message wire types
// defined here.
package api
