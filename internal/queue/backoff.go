package queue

import "fmt"

// Backoff policy kinds
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// BackoffPolicy computes how far a failing topic is pushed back.
type BackoffPolicy struct {
	Kind        string
	BaseMinutes int
	// MaxMinutes caps exponential growth. Zero means uncapped.
	MaxMinutes int
}

// FixedBackoff returns a policy that always delays by minutes.
func FixedBackoff(minutes int) BackoffPolicy {
	return BackoffPolicy{Kind: BackoffFixed, BaseMinutes: minutes}
}

// NewBackoffPolicy validates kind and builds a policy.
func NewBackoffPolicy(kind string, baseMinutes, maxMinutes int) (BackoffPolicy, error) {
	switch kind {
	case BackoffFixed, BackoffExponential:
	default:
		return BackoffPolicy{}, fmt.Errorf("unknown backoff policy %q", kind)
	}
	if baseMinutes < 0 || maxMinutes < 0 {
		return BackoffPolicy{}, fmt.Errorf("backoff minutes cannot be negative")
	}
	return BackoffPolicy{Kind: kind, BaseMinutes: baseMinutes, MaxMinutes: maxMinutes}, nil
}

// DelayMinutes returns the delay for a message that has already been retried
// retryCount times.
func (p BackoffPolicy) DelayMinutes(retryCount int) int {
	if p.Kind != BackoffExponential || retryCount <= 0 {
		return p.BaseMinutes
	}

	delay := p.BaseMinutes
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if p.MaxMinutes > 0 && delay >= p.MaxMinutes {
			return p.MaxMinutes
		}
	}
	return delay
}
