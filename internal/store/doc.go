// Package store provides persistence for support-chat messages.
//
// # Architecture
//
// MessageStore is the row-store contract the chat gateway and the chat
// session depend on. Three implementations are provided:
//
//   - SQLiteStore: modernc.org/sqlite, WAL mode, schema created on open
//   - RedisStore: one sorted set of message IDs per room plus a JSON value
//     per message, for deployments that already run Redis
//   - MockStore: in-memory, with failure injection for unit tests
//
// # Data Model
//
// ChatMessage is one turn in a conversation. Rooms are keyed by the
// customer's principal ID. IDs are ULIDs, so sorting by ID sorts by creation
// time. Only the read flag changes after insert.
//
// A sender may attach a ClientNonce. Stores reject a second insert with the
// same nonce in the same room with ErrDuplicateMessage, which lets a retried
// write resolve to the original row via GetMessageByNonce.
//
// # Error Handling
//
//   - ErrNotFound: requested message does not exist
//   - ErrDuplicateMessage: client nonce already used in the room
//   - ErrInvalidMessage: missing room, content, or unknown sender role
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") or a
// t.TempDir() path for integration tests with real SQLite. RedisStore tests
// run only when MEALDESK_TEST_REDIS_URL is set.
package store
