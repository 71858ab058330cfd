package main

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	cycle := func() {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
	}

	c, job, err := newScheduler(time.UTC, "*/30 * * * *", cycle)
	require.NoError(t, err)
	require.Len(t, c.Entries(), 1)

	var wg sync.WaitGroup
	wg.Go(job.Run)
	<-started

	// A tick while the first run is still busy returns without running.
	job.Run()
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	wg.Wait()

	job.Run()
	assert.Equal(t, int32(2), calls.Load())
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	_, _, err := newScheduler(time.UTC, "every morning", func() {})
	assert.Error(t, err)
}
