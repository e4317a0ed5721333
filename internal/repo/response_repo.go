package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/domain"
)

// RecordResponse stores a contact's classified reply to a task. The
// (task, contact) unique index makes replayed replies collapse to the first
// recorded row; the bool result reports whether this call created the row.
func RecordResponse(ctx context.Context, db *gorm.DB, taskID, contactID, response string) (*domain.TaskContactResponse, bool, error) {
	r := &domain.TaskContactResponse{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		ContactID: contactID,
		Response:  response,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		if isUniqueViolation(err) {
			var existing domain.TaskContactResponse
			ferr := db.WithContext(ctx).
				Where("task_id = ? AND contact_id = ?", taskID, contactID).
				First(&existing).Error
			if ferr != nil {
				return nil, false, ferr
			}
			return &existing, false, nil
		}
		return nil, false, err
	}
	return r, true, nil
}

// CountResponses returns the number of recorded replies for a task.
func CountResponses(ctx context.Context, db *gorm.DB, taskID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.TaskContactResponse{}).
		Where("task_id = ?", taskID).
		Count(&n).Error
	return n, err
}
