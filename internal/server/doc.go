// Package server exposes a router over WebSocket.
//
// Each upgraded socket becomes a transport.Conn in handshake mode whose
// traffic is handed to the router. The same listener serves a JSON health
// check and a stats endpoint for operators.
package server
