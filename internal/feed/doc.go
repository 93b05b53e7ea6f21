// Package feed reconciles earnings notification messages into the live feed.
//
// Messages arrive from two paths: periodic REST snapshots and individual push
// events. Both are folded into one known set keyed by message id, which is
// deduplicated per subject for display. A Tracker separates genuinely new
// arrivals from messages already seen in the current session and keeps new
// ones highlighted for a fixed window.
//
// Reconciler holds the state and is not safe for concurrent use. Feed owns a
// Reconciler on a single goroutine, serialising snapshots, pushes, resets and
// highlight expiry, and publishes immutable Views to readers.
package feed
