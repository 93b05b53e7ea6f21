// Package cache implements the expiring key-value cache that sits in front of
// the REST collaborators.
//
// Entries carry an absolute expiry. An entry is visible only while the
// current time is strictly before its expiry; expired entries read as misses
// and are purged lazily on the next lookup (or by Purge on the memory store).
//
// The cache is best-effort: no operation returns an error. Backend failures
// are logged and surface as misses, so callers handle "absent", "expired" and
// "backend down" identically.
//
// Backends:
//   - Memory: process-wide map, the default
//   - Bolt:   persistent bbolt file, survives restarts
//   - Redis:  shared between replicas
package cache
