// Package events provides the progress push channel.
//
// The Hub fans task snapshots out to per-owner subscriptions. Delivery is
// best effort: a subscriber whose buffer is full misses the update, and a
// new subscriber receives nothing published before it subscribed. Clients
// reconcile by pulling task state after subscribing.
//
// The primary components are:
// - TaskUpdateEvent: the message pushed for every persisted task change
// - Hub: per-owner fan-out with non-blocking publish
// - Subscription: one consumer's buffered stream of events
package events
