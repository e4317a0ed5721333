package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/domain"
)

// CreateVoiceJob inserts a new call attempt in queued status.
func CreateVoiceJob(ctx context.Context, db *gorm.DB, v *domain.VoiceJob) (*domain.VoiceJob, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = domain.VoiceQueued
	}
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now
	if err := db.WithContext(ctx).Create(v).Error; err != nil {
		return nil, err
	}
	return v, nil
}

// GetVoiceJob fetches a voice job by ID, or ErrNotFound.
func GetVoiceJob(ctx context.Context, db *gorm.DB, id string) (*domain.VoiceJob, error) {
	var v domain.VoiceJob
	if err := db.WithContext(ctx).Where("id = ?", id).First(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// VoiceJobContext is everything a webhook turn needs to act on a call.
type VoiceJobContext struct {
	Job       domain.VoiceJob
	Household domain.Household
	Contact   domain.Contact
	Task      domain.Task
	Option    *domain.TaskOption
}

// LoadVoiceJobContext fetches a voice job together with its household,
// contact, task and, for booking calls, the option being confirmed.
func LoadVoiceJobContext(ctx context.Context, db *gorm.DB, id string) (*VoiceJobContext, error) {
	var v domain.VoiceJob
	err := db.WithContext(ctx).
		Preload("Household").
		Preload("Contact").
		Preload("Task").
		Where("id = ?", id).
		First(&v).Error
	if err != nil {
		return nil, err
	}
	vc := &VoiceJobContext{
		Job:       v,
		Household: v.Household,
		Contact:   v.Contact,
		Task:      v.Task,
	}
	if v.OptionID != nil {
		opt, err := GetOption(ctx, db, *v.OptionID)
		if err != nil {
			return nil, err
		}
		vc.Option = opt
	}
	return vc, nil
}

// MarkVoiceJobDialing moves a queued job (or a failed one being redialed)
// to dialing and bumps the attempt counter. A racing worker gets ErrNotFound.
func MarkVoiceJobDialing(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.VoiceJob{}).
		Where("id = ? AND status IN ?", id, []string{domain.VoiceQueued, domain.VoiceFailed}).
		Updates(map[string]any{
			"status":     domain.VoiceDialing,
			"attempt":    gorm.Expr("attempt + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetVoiceJobCall records the provider's call SID once dialing starts.
func SetVoiceJobCall(ctx context.Context, db *gorm.DB, id, provider, callID string) error {
	return db.WithContext(ctx).
		Model(&domain.VoiceJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"provider":         provider,
			"provider_call_id": callID,
			"updated_at":       time.Now().UTC(),
		}).Error
}

// MarkVoiceJobInProgress moves a dialing job to in_progress when the callee
// answers. Terminal jobs are never touched.
func MarkVoiceJobInProgress(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.VoiceJob{}).
		Where("id = ? AND status IN ?", id, []string{domain.VoiceQueued, domain.VoiceDialing}).
		Updates(map[string]any{
			"status":     domain.VoiceInProgress,
			"updated_at": time.Now().UTC(),
		}).Error
}

// SaveVoiceTranscript appends the callee's latest utterance, newest last.
func SaveVoiceTranscript(ctx context.Context, db *gorm.DB, id, transcript string) error {
	return db.WithContext(ctx).
		Model(&domain.VoiceJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_transcript": transcript,
			"updated_at":      time.Now().UTC(),
		}).Error
}

// CompleteVoiceJob finishes a job with its structured result.
func CompleteVoiceJob(ctx context.Context, db *gorm.DB, id, resultJSON string) error {
	return finishVoiceJob(ctx, db, id, domain.VoiceCompleted, map[string]any{"result_json": resultJSON})
}

// FailVoiceJob finishes a job in failed status with a reason.
func FailVoiceJob(ctx context.Context, db *gorm.DB, id, reason string) error {
	return finishVoiceJob(ctx, db, id, domain.VoiceFailed, map[string]any{"last_error": reason})
}

// CancelVoiceJob finishes a job in cancelled status. Used when the parent
// task is cancelled while a call is queued.
func CancelVoiceJob(ctx context.Context, db *gorm.DB, id string) error {
	return finishVoiceJob(ctx, db, id, domain.VoiceCancelled, nil)
}

// RequeueVoiceJob moves a non-terminal job back to queued for a redial.
func RequeueVoiceJob(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.VoiceJob{}).
		Where("id = ? AND status NOT IN ?", id, terminalVoiceStatuses).
		Updates(map[string]any{
			"status":     domain.VoiceQueued,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

var terminalVoiceStatuses = []string{domain.VoiceCompleted, domain.VoiceFailed, domain.VoiceCancelled}

// finishVoiceJob sets a terminal status, guarded so a terminal job never
// changes again. RowsAffected == 0 means it already finished; that is not
// an error, late provider callbacks are expected.
func finishVoiceJob(ctx context.Context, db *gorm.DB, id, status string, extra map[string]any) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	return db.WithContext(ctx).
		Model(&domain.VoiceJob{}).
		Where("id = ? AND status NOT IN ?", id, terminalVoiceStatuses).
		Updates(updates).Error
}

// CancelVoiceJobsForTask cancels the not-yet-placed call attempts on a task.
// Calls already dialing or in progress run out; the answer webhook ends them
// once it sees the task is terminal.
func CancelVoiceJobsForTask(ctx context.Context, db *gorm.DB, taskID string) error {
	return db.WithContext(ctx).
		Model(&domain.VoiceJob{}).
		Where("task_id = ? AND status = ?", taskID, domain.VoiceQueued).
		Updates(map[string]any{
			"status":     domain.VoiceCancelled,
			"updated_at": time.Now().UTC(),
		}).Error
}

// PurgeTerminalVoiceJobsBefore deletes terminal voice jobs last touched
// before cutoff. Returns the number of rows removed.
func PurgeTerminalVoiceJobsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", terminalVoiceStatuses, cutoff).
		Delete(&domain.VoiceJob{})
	return res.RowsAffected, res.Error
}
