package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/domain"
)

// EnqueueJob inserts a durable job to run at or after runAfter.
func EnqueueJob(ctx context.Context, db *gorm.DB, name, payload string, runAfter time.Time) (*domain.QueuedJob, error) {
	if payload == "" {
		payload = "{}"
	}
	j := &domain.QueuedJob{
		ID:        uuid.NewString(),
		Name:      name,
		Payload:   payload,
		RunAfter:  runAfter.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(j).Error; err != nil {
		return nil, err
	}
	return j, nil
}

// ClaimDueJobs locks up to limit due jobs for this worker pass. A job counts
// as due when run_after has passed and it is unlocked, or its lock is older
// than lockTimeout (a crashed worker's leftovers). Claimed jobs get their
// lock stamped and attempts bumped before being returned.
func ClaimDueJobs(ctx context.Context, db *gorm.DB, limit int, lockTimeout time.Duration) ([]domain.QueuedJob, error) {
	now := time.Now().UTC()
	stale := now.Add(-lockTimeout)

	var claimed []domain.QueuedJob
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []domain.QueuedJob
		err := tx.
			Where("run_after <= ? AND (locked_at IS NULL OR locked_at < ?)", now, stale).
			Order("run_after asc").
			Limit(limit).
			Find(&due).Error
		if err != nil {
			return err
		}
		for _, j := range due {
			res := tx.Model(&domain.QueuedJob{}).
				Where("id = ? AND (locked_at IS NULL OR locked_at < ?)", j.ID, stale).
				Updates(map[string]any{
					"locked_at": now,
					"attempts":  gorm.Expr("attempts + 1"),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			j.LockedAt = &now
			j.Attempts++
			claimed = append(claimed, j)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// DeleteJob removes a finished job.
func DeleteJob(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.QueuedJob{}).Error
}

// ReleaseJob unlocks a failed job and pushes run_after out so the next
// worker pass retries it.
func ReleaseJob(ctx context.Context, db *gorm.DB, id string, retryAfter time.Duration) error {
	return db.WithContext(ctx).
		Model(&domain.QueuedJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"locked_at": nil,
			"run_after": time.Now().UTC().Add(retryAfter),
		}).Error
}

// CountQueuedJobs returns how many jobs with the given name are waiting.
func CountQueuedJobs(ctx context.Context, db *gorm.DB, name string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.QueuedJob{}).
		Where("name = ?", name).
		Count(&n).Error
	return n, err
}
