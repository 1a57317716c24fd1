package server

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_Cancel(t *testing.T) {
	jobID1 := "test-scheduler-job-1"
	jobID2 := "test-scheduler-job-2"
	scheduler := NewDefaultScheduler()
	scheduler.Schedule(2*time.Second, jobID1, func() (time.Duration, bool) {
		return 0, false
	})
	scheduler.Schedule(2*time.Second, jobID2, func() (time.Duration, bool) {
		return 0, false
	})

	assert.Len(t, scheduler.jobs, 2)
	scheduler.Cancel([]string{jobID1})
	assert.Len(t, scheduler.jobs, 1)
	assert.NotNil(t, scheduler.jobs[jobID2])
}

func TestScheduler_Schedule(t *testing.T) {
	jobID := "test-scheduler-job-1"
	scheduler := NewDefaultScheduler()
	wg := sync.WaitGroup{}
	wg.Add(1)
	// job without reschedule should be triggered once
	job := func() (time.Duration, bool) {
		wg.Done()
		return 0, false
	}
	scheduler.Schedule(50*time.Millisecond, jobID, job)
	wg.Wait()

	// job with reschedule should be triggered at least twice
	var runs atomic.Int32
	done := make(chan struct{})
	job = func() (time.Duration, bool) {
		if runs.Add(1) == 2 {
			close(done)
		}
		return 50 * time.Millisecond, true
	}

	scheduler.Schedule(50*time.Millisecond, jobID, job)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("rescheduled job did not run twice")
	}
	scheduler.Cancel([]string{jobID})
}

func TestScheduler_DuplicateID(t *testing.T) {
	jobID := "test-scheduler-job-1"
	scheduler := NewDefaultScheduler()
	scheduler.Schedule(time.Hour, jobID, func() (time.Duration, bool) {
		return 0, false
	})
	scheduler.Schedule(time.Hour, jobID, func() (time.Duration, bool) {
		return 0, false
	})
	assert.Len(t, scheduler.jobs, 1)
}
