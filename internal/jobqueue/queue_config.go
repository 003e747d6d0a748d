// Package jobqueue configuration. All tunable parameters for the River
// queue live here; the defaults favor reliability over throughput since
// both job kinds are small database writes.
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue.
type QueueConfig struct {
	// MaxWorkers is the number of concurrent workers processing jobs.
	MaxWorkers int

	// MaxRetries is the maximum retry attempts per job before it is
	// discarded. Trust adjustments and embedding stores are idempotent,
	// so generous retries are safe.
	MaxRetries int

	// JobTimeout is the maximum time a single job can run.
	JobTimeout time.Duration
}

// DefaultQueueConfig returns the default configuration.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers: 4,
		MaxRetries: 10,
		JobTimeout: 30 * time.Second,
	}
}

// RiverQueueConfig converts our config to River's queue configuration format.
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
