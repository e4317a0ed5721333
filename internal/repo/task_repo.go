// Package repo provides persistence for tasks.
//
// Task mutations are small named updates so the services layer reads as the
// state machine it implements. All status changes that matter to the
// single-active-prompt invariant run inside the caller's household-locked
// transaction.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/domain"
)

// CreateTask inserts a new task. ID and CreatedAt are filled here.
func CreateTask(ctx context.Context, db *gorm.DB, t *domain.Task) (*domain.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.TaskIntentCreated
	}
	if t.Metadata == "" {
		t.Metadata = "{}"
	}
	t.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// GetTask fetches a task by ID within a household, or ErrNotFound.
func GetTask(ctx context.Context, db *gorm.DB, id, householdID string) (*domain.Task, error) {
	var t domain.Task
	err := db.WithContext(ctx).
		Where("id = ? AND household_id = ?", id, householdID).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTaskByID fetches a task by primary key alone. Job handlers use it; the
// webhook paths scope by household instead.
func GetTaskByID(ctx context.Context, db *gorm.DB, id string) (*domain.Task, error) {
	var t domain.Task
	err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetAwaitingTask returns the household's task currently holding the prompt
// slot (awaiting_parent = true), newest first, or ErrNotFound.
func GetAwaitingTask(ctx context.Context, db *gorm.DB, householdID string) (*domain.Task, error) {
	var t domain.Task
	err := db.WithContext(ctx).
		Where("household_id = ? AND awaiting_parent = ?", householdID, true).
		Order("created_at desc").
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// OtherTaskAwaiting reports whether any task other than exceptID holds the
// household's prompt slot. Gate every prompt on this.
func OtherTaskAwaiting(ctx context.Context, db *gorm.DB, householdID, exceptID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("household_id = ? AND awaiting_parent = ? AND id <> ?", householdID, true, exceptID).
		Count(&n).Error
	return n > 0, err
}

// CountActiveTasks returns the number of tasks in a non-terminal status.
func CountActiveTasks(ctx context.Context, db *gorm.DB, householdID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("household_id = ? AND status NOT IN ?", householdID, domain.TerminalTaskStatuses).
		Count(&n).Error
	return n, err
}

// ListActiveTasks returns up to limit non-terminal tasks, newest first.
func ListActiveTasks(ctx context.Context, db *gorm.DB, householdID string, limit int) ([]domain.Task, error) {
	var out []domain.Task
	err := db.WithContext(ctx).
		Where("household_id = ? AND status NOT IN ?", householdID, domain.TerminalTaskStatuses).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// LatestActiveTask returns the most recently created non-terminal task, or
// ErrNotFound. This is the cancel target when nothing is awaiting a reply.
func LatestActiveTask(ctx context.Context, db *gorm.DB, householdID string) (*domain.Task, error) {
	var t domain.Task
	err := db.WithContext(ctx).
		Where("household_id = ? AND status NOT IN ?", householdID, domain.TerminalTaskStatuses).
		Order("created_at desc").
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SetTaskTimeWindow stores the resolved requested window and stamps ParsedAt.
func SetTaskTimeWindow(ctx context.Context, db *gorm.DB, id string, start, end time.Time) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"requested_start": start,
			"requested_end":   end,
			"parsed_at":       now,
			"updated_at":      now,
		}).Error
}

// MarkTaskAwaiting gives the task the household's prompt slot with the given
// reason. The caller must have verified no other task holds it.
func MarkTaskAwaiting(ctx context.Context, db *gorm.DB, id, reason string) error {
	return db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"awaiting_parent":        true,
			"awaiting_parent_reason": reason,
			"updated_at":             time.Now().UTC(),
		}).Error
}

// BeginCollecting moves the task into collecting and releases the prompt slot.
func BeginCollecting(ctx context.Context, db *gorm.DB, id string) error {
	return setTaskStatus(ctx, db, id, domain.TaskCollecting, false, nil)
}

// MarkOptionsReady moves the task into options_ready and claims the prompt
// slot with the choose_option reason.
func MarkOptionsReady(ctx context.Context, db *gorm.DB, id string) error {
	reason := domain.AwaitChooseOption
	return setTaskStatus(ctx, db, id, domain.TaskOptionsReady, true, &reason)
}

// MarkTaskBooking moves a clinic/therapy task into booking while its
// confirmation call runs; the prompt slot is released.
func MarkTaskBooking(ctx context.Context, db *gorm.DB, id string) error {
	return setTaskStatus(ctx, db, id, domain.TaskBooking, false, nil)
}

// ReturnTaskToCollecting drops the task back to plain collecting (used when
// a booking call fails while another task owns the prompt slot).
func ReturnTaskToCollecting(ctx context.Context, db *gorm.DB, id string) error {
	return setTaskStatus(ctx, db, id, domain.TaskCollecting, false, nil)
}

// FinishTask sets a terminal status (confirmed, cancelled, expired) and
// releases the prompt slot.
func FinishTask(ctx context.Context, db *gorm.DB, id, status string) error {
	return setTaskStatus(ctx, db, id, status, false, nil)
}

func setTaskStatus(ctx context.Context, db *gorm.DB, id, status string, awaiting bool, reason *string) error {
	updates := map[string]any{
		"status":          status,
		"awaiting_parent": awaiting,
		"updated_at":      time.Now().UTC(),
	}
	if awaiting {
		updates["awaiting_parent_reason"] = reason
	} else {
		updates["awaiting_parent_reason"] = nil
	}
	return db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// FindCollectingTaskForContact returns the newest collecting task that has
// outreach to the contact and no recorded response from them yet, or
// ErrNotFound. This is how an inbound contact reply is attributed.
func FindCollectingTaskForContact(ctx context.Context, db *gorm.DB, householdID, contactID string) (*domain.Task, error) {
	var t domain.Task
	err := db.WithContext(ctx).
		Joins("JOIN task_outreach o ON o.task_id = tasks.id AND o.contact_id = ?", contactID).
		Joins("LEFT JOIN task_contact_responses r ON r.task_id = tasks.id AND r.contact_id = ?", contactID).
		Where("tasks.household_id = ? AND tasks.status = ? AND r.id IS NULL", householdID, domain.TaskCollecting).
		Order("tasks.created_at desc").
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}
