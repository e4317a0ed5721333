package domain

import "time"

// QueuedJob is one durable delayed job (compile options, retry outreach,
// dial a voice call, retention cleanup). Jobs are claimed by a polling
// worker with at-least-once delivery; handlers must tolerate replays, which
// they do via the same dedup and locking discipline as the webhooks.
type QueuedJob struct {
	ID        string     `json:"id"        gorm:"type:char(36);primaryKey"`
	Name      string     `json:"name"      gorm:"type:varchar(64);not null;index"`
	Payload   string     `json:"payload"   gorm:"type:text;not null;default:'{}'"`
	RunAfter  time.Time  `json:"run_after" gorm:"not null;index"`
	Attempts  int        `json:"attempts"  gorm:"not null;default:0"`
	LockedAt  *time.Time `json:"locked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// TableName returns the database table name for QueuedJob.
func (QueuedJob) TableName() string { return "queued_jobs" }
