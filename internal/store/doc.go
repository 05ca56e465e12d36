// Package store defines the shared plumbing for data persistence: the DBTX
// abstraction over *sql.DB and *sql.Tx, transaction helpers, and the sentinel
// errors every store implementation maps its failures onto.
package store
