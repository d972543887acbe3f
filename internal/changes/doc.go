// Package changes turns row modifications on the writer connection into
// published change events.
//
// This package manages:
//   - The Bridge, which registers row, commit and rollback hooks on the
//     writer connection and buffers one batch of changes per transaction
//   - The Hub, which fans committed events out to subscriptions
//   - Bounded per-subscription queues with an explicit overflow Policy
//   - The Forwarder, which republishes events to MQTT
//
// Invariants:
//   - An event is published if and only if its transaction committed.
//     Rolled-back changes, and changes undone by a failed statement inside
//     an open transaction, are discarded before publication.
//   - Events of one transaction are published together, in mutation order,
//     after the connection is back in autocommit.
//   - Every event carries a sequence number that increases by one per
//     published event.
//
// Row snapshots: built with the sqlite_preupdate_hook tag, the Bridge
// captures the old row of updates and deletes from the pre-update hook.
// Without it, only the update hook is available: Before is always nil and
// After is read back by rowid once the statement finishes. Tables declared
// WITHOUT ROWID produce no events without the tag. RowSnapshots reports
// the mode compiled in:
//
//	go build -tags sqlite_preupdate_hook ./cmd/litecore
//
// Backpressure: each subscription owns a queue of Config.QueueCapacity
// events. PolicyBlock makes the publisher wait for the consumer (the writer
// worker stalls with it); PolicyDropOldest discards the oldest queued event
// and counts it in Subscription.Dropped.
//
// Usage:
//
//	hub := changes.NewHub(changes.Config{QueueCapacity: 256})
//	bridge := changes.NewBridge(hub, changes.Config{})
//	// pass bridge as executor.Config.Capture
//
//	sub := hub.Subscribe(ctx, changes.Filter{Tables: []string{"orders"}})
//	defer sub.Close()
//	for ev, err := range sub.All(ctx) {
//	    if err != nil {
//	        break // changes.ErrSubscriptionClosed on shutdown
//	    }
//	    handle(ev)
//	}
package changes
