// Package realtime defines the frames carried by a room's change-broadcast
// channel.
//
// # Frames
//
// Every websocket message is one JSON Frame:
//
//	{"type":"status","status":"subscribed"}
//	{"type":"insert","message":{...}}
//	{"type":"update","message":{...}}
//	{"type":"heartbeat","heartbeat":{"generation":3,"room":"u1","at":"..."}}
//
// The gateway sends status, insert, update and heartbeat frames. Clients
// only send heartbeat frames, which the gateway re-broadcasts to everyone in
// the room so both parties observe each other's liveness.
//
// Delivery is at-least-once: a reconnecting client may see an insert it
// already loaded through history, so receivers dedupe by message ID.
package realtime
