package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/domain"
)

// AddOptionIfAbsent adds a candidate slot for (task, contact, start, end)
// unless an equivalent option already exists in any status. Rank is assigned
// once, at insert, as max(rank)+1 for the task, so presentation order never
// shuffles as later options arrive. Returns the option and whether it was
// created.
func AddOptionIfAbsent(ctx context.Context, db *gorm.DB, taskID, contactID string, start, end time.Time) (*domain.TaskOption, bool, error) {
	var existing domain.TaskOption
	err := db.WithContext(ctx).
		Where("task_id = ? AND contact_id = ? AND slot_start = ? AND slot_end = ?", taskID, contactID, start, end).
		First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, false, err
	}

	rank, err := nextOptionRank(ctx, db, taskID)
	if err != nil {
		return nil, false, err
	}
	o := &domain.TaskOption{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		ContactID: contactID,
		SlotStart: start.UTC(),
		SlotEnd:   end.UTC(),
		Status:    domain.OptionPending,
		Rank:      rank,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(o).Error; err != nil {
		return nil, false, err
	}
	return o, true, nil
}

func nextOptionRank(ctx context.Context, db *gorm.DB, taskID string) (int, error) {
	var max sql.NullInt64
	err := db.WithContext(ctx).
		Model(&domain.TaskOption{}).
		Where("task_id = ?", taskID).
		Select("MAX(rank)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

// CountPendingOptions returns the number of pending options on a task.
func CountPendingOptions(ctx context.Context, db *gorm.DB, taskID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.TaskOption{}).
		Where("task_id = ? AND status = ?", taskID, domain.OptionPending).
		Count(&n).Error
	return n, err
}

// ListPendingOptions returns up to limit pending options in rank order with
// their contacts preloaded. The requester's numeric reply indexes this list.
func ListPendingOptions(ctx context.Context, db *gorm.DB, taskID string, limit int) ([]domain.TaskOption, error) {
	var out []domain.TaskOption
	err := db.WithContext(ctx).
		Preload("Contact").
		Where("task_id = ? AND status = ?", taskID, domain.OptionPending).
		Order("rank asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetOption fetches one option by ID, contact preloaded, or ErrNotFound.
func GetOption(ctx context.Context, db *gorm.DB, id string) (*domain.TaskOption, error) {
	var o domain.TaskOption
	err := db.WithContext(ctx).Preload("Contact").Where("id = ?", id).First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// SelectOption marks one option selected.
func SelectOption(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.TaskOption{}).
		Where("id = ?", id).
		Update("status", domain.OptionSelected).Error
}

// RejectOption marks one option rejected (used when a booking call cannot
// confirm the chosen slot).
func RejectOption(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.TaskOption{}).
		Where("id = ?", id).
		Update("status", domain.OptionRejected).Error
}

// RejectOtherPending rejects every pending option on the task except keepID.
func RejectOtherPending(ctx context.Context, db *gorm.DB, taskID, keepID string) error {
	return db.WithContext(ctx).
		Model(&domain.TaskOption{}).
		Where("task_id = ? AND status = ? AND id <> ?", taskID, domain.OptionPending, keepID).
		Update("status", domain.OptionRejected).Error
}

// ReleaseRejectedExcept returns rejected options (other than exceptID) to
// pending so the requester can pick again after a failed booking.
func ReleaseRejectedExcept(ctx context.Context, db *gorm.DB, taskID, exceptID string) error {
	return db.WithContext(ctx).
		Model(&domain.TaskOption{}).
		Where("task_id = ? AND status = ? AND id <> ?", taskID, domain.OptionRejected, exceptID).
		Update("status", domain.OptionPending).Error
}
