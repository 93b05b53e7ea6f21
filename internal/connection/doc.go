// Package connection implements the push channel.
//
// A Subscriber keeps one websocket connection to the notification server
// while enabled:
//   - Dials on Enable, closes the connection on Disable
//   - Reconnects with exponential backoff after a drop
//   - Decodes message frames and ignores heartbeats
//   - Reports connected / reconnecting / disconnected transitions
//   - Never delivers the same message id twice in one process
package connection
