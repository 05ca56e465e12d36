// Package queue implements ordered, per-topic delivery of queued messages.
//
// Service exposes the read/mutate primitives of the ordering and retry state
// machine. Sweeper drives eligible work to completion: it selects topics with
// due messages, takes a per-topic lock, re-reads the topic's head message,
// dispatches it to an executor.Executor and records the outcome. Reclaimer
// returns messages that stalled in the running state back to pending.
//
// Within a topic at most one message is running at any time and messages are
// dispatched in (eligible_at, id) order. The topic lock is the only mutual
// exclusion primitive; fencing tokens carried on every terminal write reject
// outcomes reported under a lock that has since expired.
package queue
