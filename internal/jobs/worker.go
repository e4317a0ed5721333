package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/domain"
	"github.com/hearthkeep/hearth/internal/repo"
)

// HandlerFunc processes one claimed job. A nil return deletes the job; an
// error releases it for retry until the attempt cap, then drops it.
type HandlerFunc func(ctx context.Context, payload string) error

// Worker polls the queue and dispatches claimed jobs to registered handlers.
type Worker struct {
	DB  *gorm.DB
	Log zerolog.Logger

	// PollInterval is the idle sleep between claim passes.
	PollInterval time.Duration
	// BatchSize is the maximum jobs claimed per pass.
	BatchSize int
	// LockTimeout is the claim lease; a crashed worker's jobs become
	// claimable again once it expires.
	LockTimeout time.Duration
	// RetryDelay pushes a failed job's run_after forward.
	RetryDelay time.Duration
	// MaxAttempts drops a job that keeps failing.
	MaxAttempts int

	handlers map[string]HandlerFunc
}

// NewWorker returns a Worker with the default polling policy.
func NewWorker(db *gorm.DB, log zerolog.Logger) *Worker {
	return &Worker{
		DB:           db,
		Log:          log,
		PollInterval: 5 * time.Second,
		BatchSize:    10,
		LockTimeout:  5 * time.Minute,
		RetryDelay:   time.Minute,
		MaxAttempts:  5,
		handlers:     make(map[string]HandlerFunc),
	}
}

// Handle registers the handler for a job name.
func (w *Worker) Handle(name string, fn HandlerFunc) {
	w.handlers[name] = fn
}

// Run polls until the context is cancelled. It drains each claim batch
// before sleeping so a burst of due jobs clears quickly.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		for w.runBatch(ctx) {
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runBatch claims and runs one batch, reporting whether it was full (more
// work is likely waiting).
func (w *Worker) runBatch(ctx context.Context) bool {
	claimed, err := repo.ClaimDueJobs(ctx, w.DB, w.BatchSize, w.LockTimeout)
	if err != nil {
		w.Log.Error().Err(err).Msg("job claim failed")
		return false
	}
	for _, job := range claimed {
		w.runJob(ctx, job)
	}
	return len(claimed) == w.BatchSize
}

func (w *Worker) runJob(ctx context.Context, job domain.QueuedJob) {
	log := w.Log.With().Str("job_id", job.ID).Str("job", job.Name).Int("attempt", job.Attempts).Logger()

	fn, ok := w.handlers[job.Name]
	if !ok {
		log.Warn().Msg("no handler registered, dropping job")
		if err := repo.DeleteJob(ctx, w.DB, job.ID); err != nil {
			log.Error().Err(err).Msg("failed to drop job")
		}
		return
	}

	if err := fn(ctx, job.Payload); err != nil {
		if job.Attempts >= w.MaxAttempts {
			log.Error().Err(err).Msg("job exhausted retries, dropping")
			if derr := repo.DeleteJob(ctx, w.DB, job.ID); derr != nil {
				log.Error().Err(derr).Msg("failed to drop job")
			}
			return
		}
		log.Warn().Err(err).Msg("job failed, will retry")
		if rerr := repo.ReleaseJob(ctx, w.DB, job.ID, w.RetryDelay); rerr != nil {
			log.Error().Err(rerr).Msg("failed to release job")
		}
		return
	}

	if err := repo.DeleteJob(ctx, w.DB, job.ID); err != nil {
		log.Error().Err(err).Msg("failed to delete completed job")
	}
}
