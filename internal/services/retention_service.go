package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/repo"
)

// RetentionService purges aged audit data: message events past the retention
// window and voice jobs that finished long ago. Live rows (tasks, contacts,
// options) are never touched.
type RetentionService struct {
	DB *gorm.DB

	// RetentionDays is the age past which audit rows are deleted.
	RetentionDays int

	Now func() time.Time
}

// NewRetentionService constructs a RetentionService with the default
// 30-day window.
func NewRetentionService(db *gorm.DB) *RetentionService {
	return &RetentionService{DB: db, RetentionDays: 30, Now: time.Now}
}

// Cleanup runs one purge pass and reports how many message events and voice
// jobs were removed.
func (s *RetentionService) Cleanup(ctx context.Context) (events, voiceJobs int64, err error) {
	cutoff := s.Now().UTC().AddDate(0, 0, -s.RetentionDays)

	events, err = repo.PurgeMessageEventsBefore(ctx, s.DB, cutoff)
	if err != nil {
		return 0, 0, err
	}
	voiceJobs, err = repo.PurgeTerminalVoiceJobsBefore(ctx, s.DB, cutoff)
	if err != nil {
		return events, 0, err
	}
	return events, voiceJobs, nil
}
