package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/adapters/voice"
	"github.com/hearthkeep/hearth/internal/domain"
	"github.com/hearthkeep/hearth/internal/repo"
)

// maxDialAttempts caps placement attempts per voice job, counting redials.
const maxDialAttempts = 3

// VoiceDialService places the outbound call for a queued voice job. It runs
// from the job worker, not from a webhook, so its sends and audit rows go
// through the same gateway pipeline as everything else.
type VoiceDialService struct {
	DB      *gorm.DB
	Gateway *Gateway
	Dialer  voice.Dialer

	// PublicBaseURL is the externally reachable origin for the answer and
	// status webhooks. Dialing fails without redial when it is unset.
	PublicBaseURL string
	// WebhookToken, when set, is appended to the webhook URLs and verified
	// on every voice callback.
	WebhookToken string

	RedialAvailability time.Duration
	RedialBooking      time.Duration

	Now func() time.Time
}

// NewVoiceDialService constructs a VoiceDialService with the fixed product
// policy defaults.
func NewVoiceDialService(db *gorm.DB, gw *Gateway, dialer voice.Dialer, publicBaseURL, webhookToken string) *VoiceDialService {
	return &VoiceDialService{
		DB:                 db,
		Gateway:            gw,
		Dialer:             dialer,
		PublicBaseURL:      publicBaseURL,
		WebhookToken:       webhookToken,
		RedialAvailability: 24 * time.Hour,
		RedialBooking:      10 * time.Minute,
		Now:                time.Now,
	}
}

func (s *VoiceDialService) webhookURL(path, jobID string) string {
	q := url.Values{"jobId": {jobID}}
	if s.WebhookToken != "" {
		q.Set("token", s.WebhookToken)
	}
	return strings.TrimRight(s.PublicBaseURL, "/") + path + "?" + q.Encode()
}

// Dial places the call for one voice job. Precondition failures (opted-out
// contact, missing phone, attempt cap) fail the job without redial; provider
// errors fail it and schedule a redial.
func (s *VoiceDialService) Dial(ctx context.Context, voiceJobID string) error {
	vc, err := repo.LoadVoiceJobContext(ctx, s.DB, voiceJobID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrVoiceJobNotFound
	}
	if err != nil {
		return err
	}
	if vc.Job.Terminal() && vc.Job.Status != domain.VoiceFailed {
		return nil
	}
	if vc.Task.Terminal() {
		return repo.CancelVoiceJob(ctx, s.DB, vc.Job.ID)
	}

	if vc.Contact.VoiceOptedOut {
		return repo.FailVoiceJob(ctx, s.DB, vc.Job.ID, FailContactVoiceOptedOut)
	}
	if vc.Contact.Phone == nil || strings.TrimSpace(*vc.Contact.Phone) == "" {
		return repo.FailVoiceJob(ctx, s.DB, vc.Job.ID, FailMissingContactPhone)
	}
	if vc.Job.Attempt >= maxDialAttempts {
		return repo.FailVoiceJob(ctx, s.DB, vc.Job.ID, FailMaxAttemptsExceeded)
	}

	if s.PublicBaseURL == "" {
		return repo.FailVoiceJob(ctx, s.DB, vc.Job.ID, "missing public base url")
	}

	// Claim the job before the external call so a racing worker no-ops.
	if err := repo.MarkVoiceJobDialing(ctx, s.DB, vc.Job.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	attempt := vc.Job.Attempt + 1

	res, err := s.Dialer.StartCall(ctx, voice.Call{
		To:                *vc.Contact.Phone,
		From:              vc.Household.AssistantPhone,
		AnswerURL:         s.webhookURL("/webhooks/twilio/voice/answer", vc.Job.ID),
		StatusCallbackURL: s.webhookURL("/webhooks/twilio/voice/status", vc.Job.ID),
	})
	if err != nil {
		if ferr := repo.FailVoiceJob(ctx, s.DB, vc.Job.ID, err.Error()); ferr != nil {
			return ferr
		}
		if attempt < maxDialAttempts {
			s.scheduleRedial(ctx, vc, attempt)
		}
		return nil
	}

	if err := repo.SetVoiceJobCall(ctx, s.DB, vc.Job.ID, res.Provider, res.ProviderCallID); err != nil {
		return err
	}
	if err := s.markVoiceOutreachSent(ctx, vc); err != nil {
		return err
	}

	taskID := vc.Task.ID
	phone := *vc.Contact.Phone
	_ = repo.AppendMessageEvent(ctx, s.DB, &domain.MessageEvent{
		HouseholdID:       vc.Household.ID,
		TaskID:            &taskID,
		Direction:         domain.DirectionOutbound,
		Channel:           domain.ChannelVoice,
		FromAddr:          vc.Household.AssistantPhone,
		ToAddr:            phone,
		Body:              fmt.Sprintf("Started voice %s call to %s (attempt %d).", vc.Job.Kind, vc.Contact.Name, attempt),
		Provider:          res.Provider,
		ProviderMessageID: "voice-call:" + res.ProviderCallID,
		OccurredAt:        s.Now().UTC(),
	})
	return nil
}

func (s *VoiceDialService) markVoiceOutreachSent(ctx context.Context, vc *repo.VoiceJobContext) error {
	o, _, err := repo.EnsureOutreach(ctx, s.DB, vc.Task.ID, vc.Contact.ID, domain.ChannelVoice)
	if err != nil {
		return err
	}
	if o.Status == domain.OutreachQueued {
		return repo.MarkOutreachSent(ctx, s.DB, o.ID)
	}
	return nil
}

func (s *VoiceDialService) scheduleRedial(ctx context.Context, vc *repo.VoiceJobContext, attempt int) {
	delay := s.RedialAvailability
	if vc.Job.Kind == domain.VoiceKindBooking {
		delay = s.RedialBooking
	}
	out := NoOpOutcome()
	out.HouseholdID = vc.Household.ID
	out.enqueue(JobDialVoiceJob, voicePayload(vc.Job.ID), s.Now().UTC().Add(delay))
	s.Gateway.Execute(ctx, &vc.Household, out)
}
