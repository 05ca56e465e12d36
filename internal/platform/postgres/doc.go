// Package postgres provides PostgreSQL implementations of the queue and
// recovery stores, the embedded goose migrations that create their tables,
// and the mapping from PostgreSQL error codes to store errors.
package postgres
