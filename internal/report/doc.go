// Package report runs a sweep a fixed number of times and summarizes the
// per-iteration results. The CLI prints the summary as a table; the admin
// API returns it as JSON.
package report
