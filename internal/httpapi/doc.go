// Package httpapi serves the dashboard API.
//
// Endpoints:
//   - GET  /health                    Push state, last snapshot, cache and database status
//   - GET  /api/feed                  Current feed view
//   - GET  /api/feed/events           Feed views as server-sent events
//   - POST /api/feed/refresh          On-demand snapshot
//   - POST /api/feed/reset            New view session (clears seen and highlighted)
//   - POST /api/feed/push             {"enabled": bool} toggles the push channel
//   - GET  /api/messages/:id/link     Rendered page behind a link message
//   - GET  /api/earnings?date=        Earnings calendar
//   - GET|PUT /api/configs/:ticker    Company config
//   - GET|PUT /api/historical/:ticker?date=  Historical metrics
//
// Errors are JSON objects of the form {"error": "..."}.
package httpapi
