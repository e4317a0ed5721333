package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/domain"
	"github.com/hearthkeep/hearth/internal/repo"
)

// SitterJobService runs the scheduled follow-ups on a collecting sitter
// task: the deadline compile that surfaces whatever options exist, and the
// next-day retry that re-pings contacts who never answered.
type SitterJobService struct {
	DB      *gorm.DB
	Gateway *Gateway

	// OptionListLimit caps the ranked options shown to the requester.
	OptionListLimit int
	// CompileRetryDelay schedules the re-compile that follows a retry pass.
	CompileRetryDelay time.Duration

	Now func() time.Time
}

// NewSitterJobService constructs a SitterJobService with the fixed product
// policy defaults.
func NewSitterJobService(db *gorm.DB, gw *Gateway) *SitterJobService {
	return &SitterJobService{
		DB:                db,
		Gateway:           gw,
		OptionListLimit:   3,
		CompileRetryDelay: 30 * time.Minute,
		Now:               time.Now,
	}
}

// CompileOptions is the deadline pass: once the collection window closes, a
// still-collecting task prompts the requester with whatever pending options
// it has, or admits that nobody replied. Tasks that moved on, or households
// whose prompt slot is taken, no-op.
func (s *SitterJobService) CompileOptions(ctx context.Context, taskID string) error {
	var hh *domain.Household
	out := NoOpOutcome()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := repo.GetTaskByID(ctx, tx, taskID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		h, err := repo.LockHousehold(ctx, tx, task.HouseholdID)
		if err != nil {
			return err
		}
		hh = h
		out.HouseholdID = h.ID

		if task.Status != domain.TaskCollecting || task.AwaitingParent {
			return nil
		}
		otherAwaiting, err := repo.OtherTaskAwaiting(ctx, tx, h.ID, task.ID)
		if err != nil {
			return err
		}
		if otherAwaiting {
			return nil
		}

		initiator := ""
		if meta := task.DecodedMetadata(); meta != nil {
			initiator = meta.InitiatorPhone()
		}
		if initiator == "" {
			return nil
		}

		options, err := repo.ListPendingOptions(ctx, tx, task.ID, s.OptionListLimit)
		if err != nil {
			return err
		}
		if len(options) == 0 {
			out.sms(initiator, "No one has replied yet. I’ll try again tomorrow.", task.ID)
			return nil
		}

		if err := repo.MarkOptionsReady(ctx, tx, task.ID); err != nil {
			return err
		}
		loc := householdLocation(h.Timezone)
		out.sms(initiator, optionsPrompt(options, task.IntentType, loc), task.ID)
		return nil
	})
	if err != nil {
		return err
	}
	s.Gateway.Execute(ctx, hh, out)
	return nil
}

// RetryOutreach re-pings every contacted sitter who has not answered, over
// the channel they were originally asked on, then schedules a fresh compile
// pass. Opted-out contacts and contacts missing the channel address are
// skipped.
func (s *SitterJobService) RetryOutreach(ctx context.Context, taskID string) error {
	var hh *domain.Household
	out := NoOpOutcome()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := repo.GetTaskByID(ctx, tx, taskID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		h, err := repo.LockHousehold(ctx, tx, task.HouseholdID)
		if err != nil {
			return err
		}
		hh = h
		out.HouseholdID = h.ID

		if task.Status != domain.TaskCollecting {
			return nil
		}
		if task.RequestedStart == nil || task.RequestedEnd == nil {
			return nil
		}

		unanswered, err := repo.ListUnansweredOutreach(ctx, tx, task.ID)
		if err != nil {
			return err
		}

		loc := householdLocation(h.Timezone)
		ask := followUpAsk(*task.RequestedStart, *task.RequestedEnd, loc)

		sent := 0
		for _, o := range unanswered {
			switch o.Channel {
			case domain.ChannelEmail:
				if o.Contact.EmailOptedOut || o.Contact.Email == nil || strings.TrimSpace(*o.Contact.Email) == "" {
					continue
				}
				out.email(*o.Contact.Email, "Availability check (follow-up)", ask, "", task.ID)
				sent++
			case domain.ChannelSMS:
				if o.Contact.SmsOptedOut || o.Contact.Phone == nil || strings.TrimSpace(*o.Contact.Phone) == "" {
					continue
				}
				out.sms(*o.Contact.Phone, ask, task.ID)
				sent++
			}
		}
		if sent == 0 {
			return nil
		}

		out.enqueue(JobCompileSitterOptions, taskPayload(task.ID), s.Now().UTC().Add(s.CompileRetryDelay))
		return nil
	})
	if err != nil {
		return err
	}
	s.Gateway.Execute(ctx, hh, out)
	return nil
}
