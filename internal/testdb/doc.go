// Package testdb provides helpers for integration tests that run against a
// real PostgreSQL database. Tests using it are built with the "integration"
// tag and skip themselves when no database URL is configured.
//
// Each test runs in its own transaction that is rolled back when the test
// finishes, so tests can share one database without seeing each other's rows.
package testdb
