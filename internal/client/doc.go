// Package client connects a chat session to a mealdesk gateway.
//
// # Overview
//
// The chat package defines the collaborators a session needs; this package
// provides the network-backed ones:
//
//   - TokenIdentity: principal read from a gateway-issued JWT
//   - RESTStore: history, posting and read receipts over the HTTP API
//   - Dialer: websocket change channel for a room
//
// All three share the identity's token, so switching accounts with
// SetToken is picked up by the next request or dial.
//
// # Usage
//
//	id, err := client.NewTokenIdentity(token)
//	if err != nil {
//	    return err
//	}
//	session := chat.NewSession(chat.Options{
//	    Identity: id,
//	    Store:    client.NewRESTStore(baseURL, id, nil),
//	    Channels: client.NewDialer(client.DialerConfig{BaseURL: baseURL, Tokens: id}),
//	    Mode:     chat.SelfService(),
//	})
//
// # Channel Status
//
// The dialer reports the socket's lifecycle as status frames: "subscribed"
// when the gateway acknowledges, "timeout" when it does not within the
// subscribe timeout, "closed" on a normal close and "error" on anything
// else, including a gateway going away.
package client
