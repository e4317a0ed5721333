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

// VoiceSlot is one appointment slot offered by a clinic during a call.
type VoiceSlot struct {
	Start time.Time
	End   time.Time
}

// InboundVoiceResult is the structured outcome of an availability call,
// posted by the voice pipeline once slot extraction has run.
type InboundVoiceResult struct {
	Provider          string
	ProviderMessageID string
	HouseholdID       string
	TaskID            string
	ContactID         string
	Transcript        string
	Note              string
	OfferedSlots      []VoiceSlot
}

// VoiceResultService ingests availability-call results into task options.
// Unlike the SMS path no yes/no response row is recorded: the transcript is
// the response, and the offered slots become ranked options directly.
type VoiceResultService struct {
	DB      *gorm.DB
	Gateway *Gateway

	// MaxSlots caps how many offered slots one call may contribute.
	MaxSlots int
	// OptionListLimit caps the ranked options shown to the requester.
	OptionListLimit int
	// CompileRetryDelay reschedules the compile job when the prompt slot is
	// occupied by another task at ingest time.
	CompileRetryDelay time.Duration

	Now func() time.Time
}

// NewVoiceResultService constructs a VoiceResultService with the fixed
// product policy defaults.
func NewVoiceResultService(db *gorm.DB, gw *Gateway) *VoiceResultService {
	return &VoiceResultService{
		DB:                db,
		Gateway:           gw,
		MaxSlots:          3,
		OptionListLimit:   3,
		CompileRetryDelay: 5 * time.Minute,
		Now:               time.Now,
	}
}

// Process decides and then executes: HandleResult followed by the gateway.
func (s *VoiceResultService) Process(ctx context.Context, in InboundVoiceResult) error {
	hh, out, err := s.HandleResult(ctx, in)
	if err != nil {
		return err
	}
	s.Gateway.Execute(ctx, hh, out)
	return nil
}

// HandleResult runs the decision transaction for one availability-call
// result. Results against opted-out contacts or terminal tasks are dropped
// after the audit row is written.
func (s *VoiceResultService) HandleResult(ctx context.Context, in InboundVoiceResult) (*domain.Household, *Outcome, error) {
	var hh *domain.Household
	out := NoOpOutcome()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		h, err := repo.LockHousehold(ctx, tx, in.HouseholdID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUnroutableMessage
		}
		if err != nil {
			return err
		}
		hh = h
		out.HouseholdID = h.ID

		body := strings.TrimSpace(in.Transcript)
		if body == "" {
			body = strings.TrimSpace(in.Note)
		}
		if body == "" {
			body = "voice result"
		}

		err = repo.AppendMessageEvent(ctx, tx, &domain.MessageEvent{
			HouseholdID:       h.ID,
			TaskID:            &in.TaskID,
			Direction:         domain.DirectionInbound,
			Channel:           domain.ChannelVoice,
			FromAddr:          in.ContactID,
			ToAddr:            h.AssistantPhone,
			Body:              body,
			Provider:          in.Provider,
			ProviderMessageID: in.ProviderMessageID,
			OccurredAt:        s.Now().UTC(),
		})
		if errors.Is(err, repo.ErrDuplicate) {
			out.Duplicate = true
			return nil
		}
		if err != nil {
			return err
		}

		contact, err := repo.GetContact(ctx, tx, in.ContactID, h.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if contact.VoiceOptedOut {
			return nil
		}

		task, err := repo.GetTask(ctx, tx, in.TaskID, h.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if task.Terminal() {
			return nil
		}

		slots := in.OfferedSlots
		if len(slots) > s.MaxSlots {
			slots = slots[:s.MaxSlots]
		}
		for _, slot := range slots {
			if _, _, err := repo.AddOptionIfAbsent(ctx, tx, task.ID, contact.ID, slot.Start, slot.End); err != nil {
				return err
			}
		}

		options, err := repo.ListPendingOptions(ctx, tx, task.ID, s.OptionListLimit)
		if err != nil {
			return err
		}
		if len(options) == 0 {
			return nil
		}

		otherAwaiting, err := repo.OtherTaskAwaiting(ctx, tx, h.ID, task.ID)
		if err != nil {
			return err
		}

		initiator := ""
		if meta := task.DecodedMetadata(); meta != nil {
			initiator = meta.InitiatorPhone()
		}

		if otherAwaiting || task.AwaitingParent || initiator == "" {
			// Prompt slot is busy; the compile job picks this up once it
			// frees.
			out.enqueue(JobCompileSitterOptions, taskPayload(task.ID), s.Now().UTC().Add(s.CompileRetryDelay))
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
		return nil, nil, err
	}
	return hh, out, nil
}
