// Package transport implements the per-connection machinery of the router.
//
// A Conn owns one Socket and runs two loops:
//   - the receive loop reads whole frames, decodes every message in them and
//     hands each to the Handler in order
//   - the send loop drains an unbounded outbound Queue, writing one frame per
//     message
//
// Connections move Connecting -> Open -> Closing -> Closed. The Handler is
// told about Closing before the socket is closed, so the router can release
// the connection's subscriptions, services and pending invokes first.
package transport
