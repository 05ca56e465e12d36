// Package lock implements the topic lock service used by the compensation
// sweep. A Locker hands out TTL-bound, per-key exclusive handles; the lease
// backend additionally issues monotonically increasing fencing tokens so that
// writes made under an expired lock can be rejected by the message store.
//
// Three backends are provided: LeaseLocker (a topic_locks table, fenced),
// AdvisoryLocker (Postgres session advisory locks, unfenced) and MemoryLocker
// (in-process, fenced).
package lock
