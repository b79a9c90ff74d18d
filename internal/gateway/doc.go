// Package gateway serves support-chat rooms to customers and agents.
//
// # Overview
//
// The gateway owns the message store, the conversation service that records
// and broadcasts writes, and the HTTP server. Every room route sits behind
// JWT authentication; customers may only reach the room named by their own
// principal ID, agents may reach any room.
//
// # HTTP API
//
//   - GET  /health - Liveness check
//   - GET  /api/rooms/{room}/messages?limit=N - Newest N messages, oldest first
//   - POST /api/rooms/{room}/messages - Post a message (201, or 200 for a repeated client_nonce)
//   - POST /api/rooms/{room}/read - Mark the other side's messages read, returning them
//   - GET  /api/rooms/{room}/ws - Websocket change channel
//
// # Websocket Channel
//
// After the upgrade the gateway registers the subscription and writes a
// status frame:
//
//	{"type":"status","status":"subscribed"}
//
// Every persisted write then arrives as an insert or update frame. Clients
// send heartbeat frames, which are rebroadcast to every subscriber of the
// room with the sender stamped from the token. The server pings every
// heartbeat interval and drops clients silent for longer than the heartbeat
// timeout. On shutdown each socket receives a going-away close.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // returns after ctx is cancelled and shutdown completes
package gateway
