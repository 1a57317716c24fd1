package server

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/apksignd/apksignd/server/telemetry"
)

const (
	sweepInterval  = time.Hour
	retentionJobID = "retention-sweep"
)

// RetentionSweeper deletes artifacts older than the configured retention age
// from both managed stores on a fixed schedule, independent of request
// traffic. Deletion is best-effort and idempotent: a file vanishing between
// listing and delete is benign, and per-file errors never abort a pass.
type RetentionSweeper struct {
	stores    []Store
	retention time.Duration
	scheduler Scheduler
	metrics   *telemetry.PipelineMetrics
}

// NewRetentionSweeper creates a sweeper over the given stores.
func NewRetentionSweeper(scheduler Scheduler, retention time.Duration, metrics *telemetry.PipelineMetrics, stores ...Store) *RetentionSweeper {
	return &RetentionSweeper{
		stores:    stores,
		retention: retention,
		scheduler: scheduler,
		metrics:   metrics,
	}
}

// Start schedules the hourly sweep.
func (r *RetentionSweeper) Start() {
	log.Infof("starting retention sweeper, retention %s, interval %s", r.retention, sweepInterval)
	r.scheduler.Schedule(sweepInterval, retentionJobID, func() (time.Duration, bool) {
		r.Sweep()
		return sweepInterval, true
	})
}

// Stop cancels the scheduled sweep.
func (r *RetentionSweeper) Stop() {
	r.scheduler.Cancel([]string{retentionJobID})
}

// Sweep runs a single pass over every store. Errors are logged and swallowed;
// the sweep never surfaces failures to any client.
func (r *RetentionSweeper) Sweep() {
	for _, store := range r.stores {
		deleted, err := store.RemoveOlderThan(r.retention)
		if err != nil {
			log.Errorf("retention sweep of store %s finished with errors: %v", store.Name(), err)
		}
		if deleted > 0 {
			log.Infof("retention sweep removed %d expired artifacts from store %s", deleted, store.Name())
		}
		if r.metrics != nil {
			r.metrics.CountSweepDeletions(deleted)
		}
	}
}
