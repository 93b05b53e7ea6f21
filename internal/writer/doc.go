// Package writer archives feed messages to PostgreSQL in batches.
//
// The writer is fed from the feed loop through a bounded channel and never
// blocks it: when the buffer is full the message is dropped and counted.
// Inserts are append-only with ON CONFLICT (id) DO NOTHING, so a message
// that reaches the archive twice is stored once.
package writer
