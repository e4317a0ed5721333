// Package jobs provides the durable job queue and its polling worker. Jobs
// are rows in the queued_jobs table: enqueues ride the caller's database
// transaction semantics, survive restarts, and are claimed with a lease so
// multiple workers can share one database.
package jobs

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/repo"
)

// Queue enqueues durable jobs. It satisfies the services layer's Enqueuer.
type Queue struct {
	DB *gorm.DB
}

// NewQueue returns a Queue backed by the given database.
func NewQueue(db *gorm.DB) *Queue { return &Queue{DB: db} }

// Enqueue stores one job to run at or after runAfter.
func (q *Queue) Enqueue(ctx context.Context, name, payload string, runAfter time.Time) error {
	_, err := repo.EnqueueJob(ctx, q.DB, name, payload, runAfter)
	return err
}

// EnsureScheduled enqueues the job only when no pending instance of it
// exists. Used to seed recurring jobs at startup.
func (q *Queue) EnsureScheduled(ctx context.Context, name, payload string, runAfter time.Time) error {
	n, err := repo.CountQueuedJobs(ctx, q.DB, name)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return q.Enqueue(ctx, name, payload, runAfter)
}
