package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/domain"
)

// EnsureOutreach inserts an outreach row for (task, contact, channel) if one
// does not exist yet. It returns the row and whether it was created; hitting
// the unique index means fan-out already covered this contact.
func EnsureOutreach(ctx context.Context, db *gorm.DB, taskID, contactID, channel string) (*domain.TaskOutreach, bool, error) {
	o := &domain.TaskOutreach{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		ContactID: contactID,
		Channel:   channel,
		Status:    domain.OutreachQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(o).Error; err != nil {
		if isUniqueViolation(err) {
			var existing domain.TaskOutreach
			ferr := db.WithContext(ctx).
				Where("task_id = ? AND contact_id = ? AND channel = ?", taskID, contactID, channel).
				First(&existing).Error
			if ferr != nil {
				return nil, false, ferr
			}
			return &existing, false, nil
		}
		return nil, false, err
	}
	return o, true, nil
}

// MarkOutreachSent moves a queued outreach row to sent and stamps SentAt.
// Already-sent rows are left alone so retried sends stay idempotent.
func MarkOutreachSent(ctx context.Context, db *gorm.DB, id string) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).
		Model(&domain.TaskOutreach{}).
		Where("id = ? AND status = ?", id, domain.OutreachQueued).
		Updates(map[string]any{"status": domain.OutreachSent, "sent_at": now}).Error
}

// MarkOutreachFailed records a delivery failure for a queued outreach row.
func MarkOutreachFailed(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.TaskOutreach{}).
		Where("id = ? AND status = ?", id, domain.OutreachQueued).
		Update("status", domain.OutreachFailed).Error
}

// CountOutreach returns the number of outreach rows for a task, counting each
// contact once regardless of channel.
func CountOutreach(ctx context.Context, db *gorm.DB, taskID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.TaskOutreach{}).
		Where("task_id = ?", taskID).
		Distinct("contact_id").
		Count(&n).Error
	return n, err
}

// ListOutreachForTask returns a task's outreach rows in creation order.
func ListOutreachForTask(ctx context.Context, db *gorm.DB, taskID string) ([]domain.TaskOutreach, error) {
	var out []domain.TaskOutreach
	err := db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// ListUnansweredOutreach returns the outreach rows of a task whose contacts
// have not responded, with the contact loaded. The retry job re-pings
// exactly these.
func ListUnansweredOutreach(ctx context.Context, db *gorm.DB, taskID string) ([]domain.TaskOutreach, error) {
	var out []domain.TaskOutreach
	err := db.WithContext(ctx).
		Preload("Contact").
		Joins("LEFT JOIN task_contact_responses r ON r.task_id = task_outreach.task_id AND r.contact_id = task_outreach.contact_id").
		Where("task_outreach.task_id = ? AND r.id IS NULL", taskID).
		Order("task_outreach.created_at asc").
		Find(&out).Error
	return out, err
}
