// Package journal records router lifecycle events in PostgreSQL.
//
// Events are connects, disconnects and service ownership changes. Message
// payloads are never stored. Rows are append-only and written in batches.
package journal
