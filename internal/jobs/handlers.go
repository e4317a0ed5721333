package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hearthkeep/hearth/internal/services"
)

// Handlers bundles the services the worker dispatches to.
type Handlers struct {
	Sitter    *services.SitterJobService
	Dialer    *services.VoiceDialService
	Retention *services.RetentionService
	Queue     *Queue
}

// retentionHourUTC is when the daily cleanup pass runs.
const (
	retentionHourUTC   = 3
	retentionMinuteUTC = 15
)

// Register wires every job name to its handler and seeds the recurring
// retention job.
func (h Handlers) Register(ctx context.Context, w *Worker) error {
	w.Handle(services.JobCompileSitterOptions, func(ctx context.Context, payload string) error {
		var p services.TaskJobPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return err
		}
		return h.Sitter.CompileOptions(ctx, p.TaskID)
	})

	w.Handle(services.JobRetrySitterOutreach, func(ctx context.Context, payload string) error {
		var p services.TaskJobPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return err
		}
		return h.Sitter.RetryOutreach(ctx, p.TaskID)
	})

	w.Handle(services.JobDialVoiceJob, func(ctx context.Context, payload string) error {
		var p services.VoiceJobPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return err
		}
		err := h.Dialer.Dial(ctx, p.VoiceJobID)
		if errors.Is(err, services.ErrVoiceJobNotFound) {
			// Job row purged; nothing left to dial.
			return nil
		}
		return err
	})

	w.Handle(services.JobRetentionCleanup, func(ctx context.Context, payload string) error {
		events, voiceJobs, err := h.Retention.Cleanup(ctx)
		if err != nil {
			return err
		}
		w.Log.Info().Int64("message_events", events).Int64("voice_jobs", voiceJobs).Msg("retention cleanup done")
		// Chain the next daily pass.
		return h.Queue.Enqueue(ctx, services.JobRetentionCleanup, "{}", nextRetentionRun(time.Now().UTC()))
	})

	return h.Queue.EnsureScheduled(ctx, services.JobRetentionCleanup, "{}", nextRetentionRun(time.Now().UTC()))
}

// nextRetentionRun returns the next daily cleanup time strictly after now.
func nextRetentionRun(now time.Time) time.Time {
	run := time.Date(now.Year(), now.Month(), now.Day(), retentionHourUTC, retentionMinuteUTC, 0, 0, time.UTC)
	if !run.After(now) {
		run = run.AddDate(0, 0, 1)
	}
	return run
}
