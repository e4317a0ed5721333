package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/domain"
	"github.com/hearthkeep/hearth/internal/parse"
	"github.com/hearthkeep/hearth/internal/repo"
)

// Voice job failure reasons surfaced through VoiceJob.LastError.
const (
	FailClinicRejectedSlot     = "clinic_rejected_slot"
	FailUnableToConfirmSlot    = "unable_to_confirm_slot"
	FailUnableToExtractSlots   = "unable_to_extract_slots"
	FailCompletedWithoutResult = "call_completed_without_result"
	FailContactVoiceOptedOut   = "contact_voice_opted_out"
	FailMissingContactPhone    = "missing_contact_phone"
	FailMaxAttemptsExceeded    = "max_attempts_exceeded"
)

// GatherSpec asks the provider to capture speech and post it back for the
// given turn.
type GatherSpec struct {
	Prompt     string
	TimeoutSec int
	NextTurn   int
}

// CallScript is one voice turn: lines to speak, an optional speech gather,
// and the fallback spoken when the gather times out with no input. The HTTP
// layer renders it to provider markup.
type CallScript struct {
	Say        []string
	Gather     *GatherSpec
	NoInputSay string
}

func sayAndHangUp(lines ...string) *CallScript { return &CallScript{Say: lines} }

// VoiceController drives the two scripted call kinds: booking confirmation
// (yes/no on one slot) and availability capture (free-speech slot listing).
// The IVR webhooks (answer, gather, status callback) delegate here; the
// controller decides the next spoken turn as a channel-neutral CallScript
// and runs the same post-commit outcome pipeline as the SMS path.
// Conversational state lives on the voice job row, not in the provider:
// every turn reloads the job and re-checks that the job and its task are
// still live.
type VoiceController struct {
	DB      *gorm.DB
	Gateway *Gateway
	Results *VoiceResultService

	// MaxTurns bounds reprompts per call before the job fails.
	MaxTurns int
	// RedialAvailability and RedialBooking delay the retry call after a
	// telephony-level failure.
	RedialAvailability time.Duration
	RedialBooking      time.Duration
	// SlotDuration and TherapySlotDuration default the end of a spoken slot
	// when the clinic only gives a start time.
	SlotDuration        time.Duration
	TherapySlotDuration time.Duration

	Now func() time.Time
}

// NewVoiceController constructs a VoiceController with the fixed product
// policy defaults.
func NewVoiceController(db *gorm.DB, gw *Gateway, results *VoiceResultService) *VoiceController {
	return &VoiceController{
		DB:                  db,
		Gateway:             gw,
		Results:             results,
		MaxTurns:            2,
		RedialAvailability:  24 * time.Hour,
		RedialBooking:       10 * time.Minute,
		SlotDuration:        30 * time.Minute,
		TherapySlotDuration: 45 * time.Minute,
		Now:                 time.Now,
	}
}

func (c *VoiceController) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

const callNoLongerNeeded = "This call is no longer needed. Goodbye."

// Answer produces the opening turn of a call. Jobs that finished or whose
// task ended while the call was ringing get a polite goodbye; an unknown job
// returns ErrVoiceJobNotFound for the handler to render.
func (c *VoiceController) Answer(ctx context.Context, jobID, callSID string) (*CallScript, error) {
	vc, err := repo.LoadVoiceJobContext(ctx, c.DB, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrVoiceJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if vc.Job.Terminal() || vc.Task.Terminal() {
		return sayAndHangUp(callNoLongerNeeded), nil
	}

	if callSID != "" && (vc.Job.ProviderCallID == nil || *vc.Job.ProviderCallID == "") {
		if err := repo.SetVoiceJobCall(ctx, c.DB, vc.Job.ID, "twilio", callSID); err != nil {
			return nil, err
		}
	}
	if err := repo.MarkVoiceJobInProgress(ctx, c.DB, vc.Job.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	loc := householdLocation(vc.Household.Timezone)
	switch vc.Job.Kind {
	case domain.VoiceKindBooking:
		if vc.Option == nil {
			return sayAndHangUp("Sorry, we do not have the appointment time. Goodbye."), nil
		}
		return &CallScript{
			Gather: &GatherSpec{
				Prompt: fmt.Sprintf(
					"Hello. This is an automated assistant calling to confirm an appointment time. Can you confirm %s? Please say yes or no.",
					vc.Option.SlotStart.In(loc).Format(layoutSpoken)),
				TimeoutSec: 4,
				NextTurn:   1,
			},
			NoInputSay: "Sorry, I did not hear a response. Goodbye.",
		}, nil
	default:
		return &CallScript{
			Gather: &GatherSpec{
				Prompt: "Hello. I'm calling to check appointment availability. " +
					"Please say the next two or three available appointment times. " +
					"For example: Tuesday February 12 at 3 30 P M.",
				TimeoutSec: 5,
				NextTurn:   1,
			},
			NoInputSay: "Sorry, I did not hear a response. Goodbye.",
		}, nil
	}
}

// Gather handles one captured speech turn.
func (c *VoiceController) Gather(ctx context.Context, jobID string, turn int, speech, callSID string) (*CallScript, error) {
	vc, err := repo.LoadVoiceJobContext(ctx, c.DB, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrVoiceJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if vc.Job.Terminal() || vc.Task.Terminal() {
		return sayAndHangUp(callNoLongerNeeded), nil
	}

	speech = strings.TrimSpace(speech)
	if speech != "" {
		if err := repo.SaveVoiceTranscript(ctx, c.DB, vc.Job.ID, speech); err != nil {
			return nil, err
		}
	}
	c.auditTranscript(ctx, vc, callSID, turn, speech)

	if vc.Job.Kind == domain.VoiceKindBooking {
		return c.bookingTurn(ctx, vc, turn, speech, callSID)
	}
	return c.availabilityTurn(ctx, vc, turn, speech, callSID)
}

// auditTranscript appends the captured speech as an inbound voice event.
// Duplicate turns (provider retries) collapse on the dedup key.
func (c *VoiceController) auditTranscript(ctx context.Context, vc *repo.VoiceJobContext, callSID string, turn int, speech string) {
	if speech == "" {
		return
	}
	sid := callSID
	if sid == "" {
		sid = vc.Job.ID
	}
	taskID := vc.Task.ID
	_ = repo.AppendMessageEvent(ctx, c.DB, &domain.MessageEvent{
		HouseholdID:       vc.Household.ID,
		TaskID:            &taskID,
		Direction:         domain.DirectionInbound,
		Channel:           domain.ChannelVoice,
		FromAddr:          vc.Contact.ID,
		ToAddr:            vc.Household.AssistantPhone,
		Body:              "Transcript: " + speech,
		Provider:          "twilio",
		ProviderMessageID: fmt.Sprintf("voice-transcript:%s:%d", sid, turn),
		OccurredAt:        c.now().UTC(),
	})
}

func (c *VoiceController) bookingTurn(ctx context.Context, vc *repo.VoiceJobContext, turn int, speech, callSID string) (*CallScript, error) {
	yn := parse.YesNoReply(speech)

	if yn == parse.Unknown && turn < c.MaxTurns {
		return &CallScript{
			Gather: &GatherSpec{
				Prompt:     "Sorry, I did not catch that. Please say yes or no.",
				TimeoutSec: 4,
				NextTurn:   turn + 1,
			},
			NoInputSay: "Sorry, I did not hear anything. Goodbye.",
		}, nil
	}

	if yn == parse.Yes {
		if err := c.confirmBooking(ctx, vc, speech, callSID); err != nil {
			return nil, err
		}
		return sayAndHangUp("Thank you. Goodbye."), nil
	}

	reason := FailClinicRejectedSlot
	if yn == parse.Unknown {
		reason = FailUnableToConfirmSlot
	}
	if err := c.rejectBooking(ctx, vc, reason); err != nil {
		return nil, err
	}
	return sayAndHangUp("Thank you. Goodbye."), nil
}

// confirmBooking finishes a booking call that got a yes: the job completes,
// the task confirms, and the requester gets the booked-slot text.
func (c *VoiceController) confirmBooking(ctx context.Context, vc *repo.VoiceJobContext, transcript, callSID string) error {
	result, _ := json.Marshal(map[string]string{
		"kind":       domain.VoiceKindBooking,
		"result":     "yes",
		"transcript": transcript,
		"callSid":    callSID,
	})

	var hh *domain.Household
	out := NoOpOutcome()
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		h, err := repo.LockHousehold(ctx, tx, vc.Household.ID)
		if err != nil {
			return err
		}
		hh = h
		out.HouseholdID = h.ID

		if err := repo.CompleteVoiceJob(ctx, tx, vc.Job.ID, string(result)); err != nil {
			return err
		}
		if err := repo.FinishTask(ctx, tx, vc.Task.ID, domain.TaskConfirmed); err != nil {
			return err
		}

		initiator := ""
		if meta := vc.Task.DecodedMetadata(); meta != nil {
			initiator = meta.InitiatorPhone()
		}
		if initiator != "" && vc.Option != nil {
			loc := householdLocation(h.Timezone)
			out.sms(initiator, fmt.Sprintf("Confirmed with %s: %s.",
				vc.Contact.Name, vc.Option.SlotStart.In(loc).Format(layoutDayDateTime)), vc.Task.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.Gateway.Execute(ctx, hh, out)
	return nil
}

// rejectBooking finishes a booking call that got a no or never got a clear
// answer. The selected option is rejected, previously rejected options come
// back as pending, and the task either re-prompts the requester or drops
// back to collecting when the prompt slot is taken.
func (c *VoiceController) rejectBooking(ctx context.Context, vc *repo.VoiceJobContext, reason string) error {
	var hh *domain.Household
	out := NoOpOutcome()
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		h, err := repo.LockHousehold(ctx, tx, vc.Household.ID)
		if err != nil {
			return err
		}
		hh = h
		out.HouseholdID = h.ID

		if err := repo.FailVoiceJob(ctx, tx, vc.Job.ID, reason); err != nil {
			return err
		}
		if vc.Option != nil {
			if err := repo.RejectOption(ctx, tx, vc.Option.ID); err != nil {
				return err
			}
			if err := repo.ReleaseRejectedExcept(ctx, tx, vc.Task.ID, vc.Option.ID); err != nil {
				return err
			}
		}

		otherAwaiting, err := repo.OtherTaskAwaiting(ctx, tx, h.ID, vc.Task.ID)
		if err != nil {
			return err
		}
		initiator := ""
		if meta := vc.Task.DecodedMetadata(); meta != nil {
			initiator = meta.InitiatorPhone()
		}

		if !otherAwaiting && initiator != "" {
			if err := repo.MarkOptionsReady(ctx, tx, vc.Task.ID); err != nil {
				return err
			}
			out.sms(initiator, "They couldn’t confirm that slot. Reply with a new option number.", vc.Task.ID)
			return nil
		}

		if err := repo.ReturnTaskToCollecting(ctx, tx, vc.Task.ID); err != nil {
			return err
		}
		if initiator != "" {
			out.sms(initiator, "They couldn’t confirm that slot. Text STATUS and I’ll follow up when I can safely prompt you again.", vc.Task.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.Gateway.Execute(ctx, hh, out)
	return nil
}

func (c *VoiceController) availabilityTurn(ctx context.Context, vc *repo.VoiceJobContext, turn int, speech, callSID string) (*CallScript, error) {
	loc := householdLocation(vc.Household.Timezone)

	var slots []parse.OfferedSlot
	if speech != "" {
		duration := c.SlotDuration
		if vc.Task.IntentType == domain.IntentTherapy {
			duration = c.TherapySlotDuration
		}
		slots = parse.OfferedSlots(speech, parse.SlotOptions{
			Now:             c.now().In(loc),
			DefaultDuration: duration,
			MaxSlots:        3,
		})
	}

	if len(slots) == 0 {
		if turn < c.MaxTurns {
			return &CallScript{
				Gather: &GatherSpec{
					Prompt: "Sorry, I did not catch the appointment times. " +
						"Please repeat the next available times with a date, for example: February 12 at 3 30 P M.",
					TimeoutSec: 6,
					NextTurn:   turn + 1,
				},
				NoInputSay: "Sorry, I did not hear anything. Goodbye.",
			}, nil
		}
		if err := repo.FailVoiceJob(ctx, c.DB, vc.Job.ID, FailUnableToExtractSlots); err != nil {
			return nil, err
		}
		return sayAndHangUp("Sorry. I was not able to capture times. Goodbye."), nil
	}

	offered := make([]map[string]string, 0, len(slots))
	voiceSlots := make([]VoiceSlot, 0, len(slots))
	for _, s := range slots {
		offered = append(offered, map[string]string{
			"start": s.Start.UTC().Format(time.RFC3339),
			"end":   s.End.UTC().Format(time.RFC3339),
		})
		voiceSlots = append(voiceSlots, VoiceSlot{Start: s.Start.UTC(), End: s.End.UTC()})
	}
	result, _ := json.Marshal(map[string]any{
		"kind":         domain.VoiceKindAvailability,
		"offeredSlots": offered,
		"transcript":   speech,
		"callSid":      callSID,
	})
	if err := repo.CompleteVoiceJob(ctx, c.DB, vc.Job.ID, string(result)); err != nil {
		return nil, err
	}

	sid := callSID
	if sid == "" {
		sid = vc.Job.ID
	}
	if err := c.Results.Process(ctx, InboundVoiceResult{
		Provider:          "twilio",
		ProviderMessageID: fmt.Sprintf("twilio-call:%s:availability", sid),
		HouseholdID:       vc.Household.ID,
		TaskID:            vc.Task.ID,
		ContactID:         vc.Contact.ID,
		Transcript:        speech,
		OfferedSlots:      voiceSlots,
	}); err != nil {
		return nil, err
	}

	return sayAndHangUp("Thank you. Goodbye."), nil
}

// Status ingests the provider's call status callback. Terminal jobs are
// never overridden: the gather turn that completed or failed the job already
// decided the outcome.
func (c *VoiceController) Status(ctx context.Context, jobID, callStatus, callSID string) error {
	vc, err := repo.LoadVoiceJobContext(ctx, c.DB, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if vc.Job.Terminal() {
		return nil
	}

	switch callStatus {
	case "answered", "in-progress":
		if err := repo.MarkVoiceJobInProgress(ctx, c.DB, vc.Job.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		return nil
	case "completed":
		// Reached only when no gather turn produced a result.
		return repo.FailVoiceJob(ctx, c.DB, vc.Job.ID, FailCompletedWithoutResult)
	case "busy", "failed", "no-answer", "canceled":
		if err := repo.FailVoiceJob(ctx, c.DB, vc.Job.ID, "call_status:"+callStatus); err != nil {
			return err
		}
		if vc.Job.Attempt < maxDialAttempts {
			delay := c.RedialAvailability
			if vc.Job.Kind == domain.VoiceKindBooking {
				delay = c.RedialBooking
			}
			out := NoOpOutcome()
			out.HouseholdID = vc.Household.ID
			out.enqueue(JobDialVoiceJob, voicePayload(vc.Job.ID), c.now().UTC().Add(delay))
			c.Gateway.Execute(ctx, &vc.Household, out)
		}
		return nil
	}
	return nil
}
