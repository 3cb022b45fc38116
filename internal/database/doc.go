// Package database provides the PostgreSQL connection pool used by the
// transcript store.
package database
