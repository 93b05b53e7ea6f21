// Package database manages the PostgreSQL pool backing the message archive.
//
// The archive is optional. When enabled, every message that reaches the feed
// is written once to feed_messages keyed by message id.
package database
