package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsRepeatedly(t *testing.T) {
	var runs atomic.Int64
	s := New(20*time.Millisecond, func() {
		runs.Add(1)
	})

	require.NoError(t, s.Start())
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 2 runs, got %d", runs.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStopPreventsFurtherRuns(t *testing.T) {
	var runs atomic.Int64
	s := New(10*time.Millisecond, func() {
		runs.Add(1)
	})
	require.NoError(t, s.Start())

	time.Sleep(50 * time.Millisecond)
	s.Stop()
	after := runs.Load()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}
