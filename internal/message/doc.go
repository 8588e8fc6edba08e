// Package message defines the wire message model of the router.
//
// Every message is one of a closed set of variants identified by its Kind,
// which is serialized as the "type" property:
//   - connect / connectResponse: handshake, assigns the client id
//   - subscribe / unsubscribe / topic: publish-subscribe
//   - registerService / unregisterService (+ responses): service ownership
//   - invoke / invokeResponse: request-response against a named service
//   - error: protocol-level failure reported to a peer
//
// Payloads are carried as Buffer values, which are immutable once constructed.
package message
