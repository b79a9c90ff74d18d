// Package conversation is the server-side write path for support chat.
//
// # Service
//
// The Service records messages and then broadcasts them:
//
//	svc := conversation.New(store, conversation.NewBroadcaster(logger), nonces, logger)
//
// Key operations:
//
//   - Post(ctx, msg): store a message and publish an insert frame
//   - MarkRead(ctx, room, role): flag a side's unread messages read and
//     publish one update frame per changed message
//   - History(ctx, room, limit): newest messages of a room, oldest first
//   - Subscribe(ctx, room): receive the room's frames until ctx ends
//
// # Idempotency
//
// Clients attach a nonce to every write. A repeated nonce returns the
// original message and publishes nothing. The dedupe cache answers recent
// replays; the store's unique (room, nonce) index covers the rest.
//
// # Broadcasting
//
// The Broadcaster fans frames out per room with a bounded buffer per
// subscriber. A subscriber that falls behind loses frames rather than
// blocking writers; clients recover by reloading history on reconnect.
package conversation
