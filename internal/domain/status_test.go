package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := map[Transition]bool{
		{StatusPending, StatusRunning}:   true,
		{StatusPending, StatusFailed}:    true,
		{StatusRunning, StatusCompleted}: true,
		{StatusRunning, StatusFailed}:    true,
		{StatusRunning, StatusPending}:   true,
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := allowed[Transition{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatusesAreImmutable(t *testing.T) {
	t.Parallel()

	for _, from := range []Status{StatusCompleted, StatusFailed} {
		assert.True(t, from.IsTerminal())
		assert.False(t, from.IsActive())
		for _, to := range AllStatuses {
			assert.False(t, CanTransition(from, to), "%s must not move to %s", from, to)
		}
	}
}

func TestSourceStatuses(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []Status{StatusPending}, SourceStatuses(StatusRunning))
	assert.Equal(t, []Status{StatusRunning}, SourceStatuses(StatusCompleted))
	assert.ElementsMatch(t, []Status{StatusPending, StatusRunning}, SourceStatuses(StatusFailed))
	assert.Equal(t, []Status{StatusRunning}, SourceStatuses(StatusPending))
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	s, err := ParseStatus("running")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, s)

	_, err = ParseStatus("processing")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
