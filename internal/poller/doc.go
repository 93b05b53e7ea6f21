// Package poller implements the snapshot path of the feed.
//
// The poller:
//   - Fetches the message snapshot on a fixed interval and on demand
//   - Stamps every fetch with an issue sequence so a slow, superseded fetch
//     can be recognised and dropped downstream
//   - Logs failed fetches and delivers nothing for them
package poller
