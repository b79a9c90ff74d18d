// Package chat maintains a live, recoverable support chat connection for one
// viewer: a customer in self-service mode or an agent viewing a customer's
// room.
//
// A Session resolves the room from the signed-in principal, loads the
// room's recent history, subscribes to its change broadcast and applies
// inbound notifications to a deduplicated local timeline. Failures are
// retried with exponential backoff up to a fixed budget. Every timer and
// channel consumer is tagged with a generation number; work from a
// superseded generation is dropped.
package chat
