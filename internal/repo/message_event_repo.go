// Package repo provides persistence for the message event audit log.
//
// Message events are append-only. The (provider, provider_message_id) unique
// key doubles as the inbound dedup key: AppendMessageEvent returning
// ErrDuplicate means the delivery is a webhook retry and must produce a
// no-op outcome.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/domain"
)

// AppendMessageEvent inserts one audit row. It fills ID and CreatedAt and
// returns ErrDuplicate when the (provider, provider_message_id) pair was
// already recorded.
func AppendMessageEvent(ctx context.Context, db *gorm.DB, ev *domain.MessageEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(ev).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// PurgeMessageEventsBefore deletes audit rows older than cutoff and returns
// the number removed. Retention policy lives with the caller.
func PurgeMessageEventsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("occurred_at < ?", cutoff).
		Delete(&domain.MessageEvent{})
	return res.RowsAffected, res.Error
}
