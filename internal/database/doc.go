// Package database provides PostgreSQL connection pool management.
//
// The router keeps no message state in the database; the pool serves the
// lifecycle journal only.
package database
