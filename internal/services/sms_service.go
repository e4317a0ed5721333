package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/domain"
	"github.com/hearthkeep/hearth/internal/parse"
	"github.com/hearthkeep/hearth/internal/repo"
)

// InboundSMS is one provider-delivered text message.
type InboundSMS struct {
	Provider          string
	ProviderMessageID string
	From              string
	To                string
	Text              string
	OccurredAt        time.Time
}

// SMSService is the SMS entry of the engine. One transaction per inbound
// text locks the household, dedups the webhook delivery, classifies the
// body, and advances the task state machine; the returned Outcome carries
// the sends and job enqueues to run after commit. Requester texts
// (authorized phones) drive task creation and option selection; contact
// texts (sitters) drive response collection.
type SMSService struct {
	DB      *gorm.DB
	Gateway *Gateway

	// DefaultRegion is the country used when normalizing bare phone numbers.
	DefaultRegion string
	// PromptMinOptions is the pending-option count that makes a task
	// prompt-ready regardless of outstanding replies.
	PromptMinOptions int
	// FanOutLimit caps how many contacts one task reaches out to.
	FanOutLimit int
	// MaxActiveTasks caps concurrent non-terminal tasks per household.
	MaxActiveTasks int
	// OptionListLimit caps how many ranked options the requester sees.
	OptionListLimit int
	// CompileDelay and RetryOutreachDelay schedule the post-fan-out jobs.
	CompileDelay       time.Duration
	RetryOutreachDelay time.Duration

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// NewSMSService constructs an SMSService with the fixed product policy
// defaults.
func NewSMSService(db *gorm.DB, gw *Gateway) *SMSService {
	return &SMSService{
		DB:                 db,
		Gateway:            gw,
		DefaultRegion:      "US",
		PromptMinOptions:   3,
		FanOutLimit:        8,
		MaxActiveTasks:     5,
		OptionListLimit:    3,
		CompileDelay:       20 * time.Minute,
		RetryOutreachDelay: 24 * time.Hour,
		Now:                time.Now,
	}
}

func (s *SMSService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Process decides and then executes: HandleInbound followed by the gateway.
func (s *SMSService) Process(ctx context.Context, in InboundSMS) error {
	hh, out, err := s.HandleInbound(ctx, in)
	if err != nil {
		return err
	}
	s.Gateway.Execute(ctx, hh, out)
	return nil
}

// HandleInbound runs the decision transaction for one inbound text and
// returns the owning household plus the outcome to execute. A duplicate
// delivery returns a Duplicate outcome with no actions; an unknown assistant
// number returns ErrUnroutableMessage.
func (s *SMSService) HandleInbound(ctx context.Context, in InboundSMS) (*domain.Household, *Outcome, error) {
	from := strings.TrimSpace(in.From)
	text := strings.TrimSpace(in.Text)
	if in.OccurredAt.IsZero() {
		in.OccurredAt = s.now()
	}

	var hh *domain.Household
	out := NoOpOutcome()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		h, err := repo.LockHouseholdByAssistantPhone(ctx, tx, strings.TrimSpace(in.To))
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUnroutableMessage
		}
		if err != nil {
			return err
		}
		hh = h
		out.HouseholdID = h.ID

		err = repo.AppendMessageEvent(ctx, tx, &domain.MessageEvent{
			HouseholdID:       h.ID,
			Direction:         domain.DirectionInbound,
			Channel:           domain.ChannelSMS,
			FromAddr:          from,
			ToAddr:            in.To,
			Body:              text,
			Provider:          in.Provider,
			ProviderMessageID: in.ProviderMessageID,
			OccurredAt:        in.OccurredAt,
		})
		if errors.Is(err, repo.ErrDuplicate) {
			out.Duplicate = true
			return nil
		}
		if err != nil {
			return err
		}

		isRequester, err := repo.IsAuthorizedPhone(ctx, tx, h.ID, from)
		if err != nil {
			return err
		}
		if !isRequester {
			return s.contactReply(ctx, tx, h, from, text, out)
		}
		return s.requesterMessage(ctx, tx, h, from, text, in.OccurredAt, out)
	})
	if err != nil {
		return nil, nil, err
	}
	return hh, out, nil
}

func isStopCommand(text string) bool  { return strings.EqualFold(strings.TrimSpace(text), "stop") }
func isStartCommand(text string) bool { return strings.EqualFold(strings.TrimSpace(text), "start") }

func isCancelCommand(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return t == "cancel" || t == "cancel task" || t == "never mind"
}

func isStatusCommand(text string) bool { return strings.EqualFold(strings.TrimSpace(text), "status") }

// contactReply handles a text from a known contact: opt-out commands first,
// then yes/no collection for the newest collecting task that asked them.
func (s *SMSService) contactReply(ctx context.Context, tx *gorm.DB, h *domain.Household, from, text string, out *Outcome) error {
	contact, err := repo.GetContactByPhone(ctx, tx, h.ID, from)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	contactPhone := from
	if contact.Phone != nil {
		contactPhone = *contact.Phone
	}

	if isStopCommand(text) {
		if err := repo.SetContactSmsOptOut(ctx, tx, contact.ID, true); err != nil {
			return err
		}
		out.sms(contactPhone, "You’re opted out. Reply START to re-subscribe.", "")
		return nil
	}
	if isStartCommand(text) {
		if err := repo.SetContactSmsOptOut(ctx, tx, contact.ID, false); err != nil {
			return err
		}
		out.sms(contactPhone, "You’re re-subscribed. Reply STOP to opt out.", "")
		return nil
	}
	if contact.SmsOptedOut {
		return nil
	}

	task, err := repo.FindCollectingTaskForContact(ctx, tx, h.ID, contact.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	yn := parse.YesNoReply(text)
	if _, _, err := repo.RecordResponse(ctx, tx, task.ID, contact.ID, yn); err != nil {
		return err
	}

	if yn == parse.Unknown {
		out.sms(contactPhone, "Quick reply: YES or NO?", task.ID)
		return nil
	}

	if yn == parse.Yes && task.RequestedStart != nil && task.RequestedEnd != nil {
		if _, _, err := repo.AddOptionIfAbsent(ctx, tx, task.ID, contact.ID, *task.RequestedStart, *task.RequestedEnd); err != nil {
			return err
		}
	}

	return promptRequesterIfReady(ctx, tx, h, task, from, promptPolicy{
		MinOptions: s.PromptMinOptions,
		ListLimit:  s.OptionListLimit,
	}, out)
}

// requesterMessage handles a text from an authorized phone: commands first,
// then the awaiting-task reply protocol, then new-request parsing.
func (s *SMSService) requesterMessage(ctx context.Context, tx *gorm.DB, h *domain.Household, from, text string, occurredAt time.Time, out *Outcome) error {
	awaiting, err := repo.GetAwaitingTask(ctx, tx, h.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	if isCancelCommand(text) {
		return s.cancelTask(ctx, tx, h, awaiting, from, out)
	}
	if isStatusCommand(text) {
		return s.statusSummary(ctx, tx, h, from, out)
	}

	if awaiting != nil {
		reason := ""
		if awaiting.AwaitingParentReason != nil {
			reason = *awaiting.AwaitingParentReason
		}
		switch reason {
		case domain.AwaitNeedTimeWindow:
			return s.resolveTimeWindow(ctx, tx, h, awaiting, from, text, occurredAt, out)
		case domain.AwaitNeedContacts:
			return s.resolveContacts(ctx, tx, h, awaiting, from, text, out)
		case domain.AwaitChooseOption:
			return s.resolveChoice(ctx, tx, h, awaiting, from, text, out)
		}
		return nil
	}

	return s.newRequest(ctx, tx, h, from, text, occurredAt, out)
}

func (s *SMSService) cancelTask(ctx context.Context, tx *gorm.DB, h *domain.Household, awaiting *domain.Task, from string, out *Outcome) error {
	target := awaiting
	if target == nil {
		t, err := repo.LatestActiveTask(ctx, tx, h.ID)
		if errors.Is(err, repo.ErrNotFound) {
			out.sms(from, "No active request to cancel.", "")
			return nil
		}
		if err != nil {
			return err
		}
		target = t
	}

	if err := repo.FinishTask(ctx, tx, target.ID, domain.TaskCancelled); err != nil {
		return err
	}
	// Queued calls for the task stop here; calls already placed run out.
	if err := repo.CancelVoiceJobsForTask(ctx, tx, target.ID); err != nil {
		return err
	}
	out.sms(from, fmt.Sprintf("Cancelled (%s).", target.IntentType), target.ID)
	return nil
}

func (s *SMSService) statusSummary(ctx context.Context, tx *gorm.DB, h *domain.Household, from string, out *Outcome) error {
	tasks, err := repo.ListActiveTasks(ctx, tx, h.ID, s.MaxActiveTasks)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		out.sms(from, "No active requests.", "")
		return nil
	}

	var b strings.Builder
	b.WriteString("Active requests:")
	for i, t := range tasks {
		suffix := ""
		if t.AwaitingParent {
			suffix = " (needs your reply)"
		}
		fmt.Fprintf(&b, "\n%d) %s: %s%s", i+1, t.IntentType, t.Status, suffix)
	}
	out.sms(from, b.String(), "")
	return nil
}

func (s *SMSService) resolveTimeWindow(ctx context.Context, tx *gorm.DB, h *domain.Household, task *domain.Task, from, text string, occurredAt time.Time, out *Outcome) error {
	loc := householdLocation(h.Timezone)
	tw, ok := parse.ParseTimeWindow(text, occurredAt.In(loc))
	if !ok {
		out.sms(from, "What day and time? Reply like: 'Fri 6-10'.", task.ID)
		return nil
	}

	if err := repo.SetTaskTimeWindow(ctx, tx, task.ID, tw.Start, tw.End); err != nil {
		return err
	}

	sitters, err := repo.ListOutreachableSitters(ctx, tx, h.ID)
	if err != nil {
		return err
	}
	if len(sitters) == 0 {
		if err := repo.MarkTaskAwaiting(ctx, tx, task.ID, domain.AwaitNeedContacts); err != nil {
			return err
		}
		out.sms(from, "No sitters saved yet. Reply with sitter name + number (e.g., 'Sarah 801-555-1234').", task.ID)
		return nil
	}

	return s.startOutreach(ctx, tx, h, task.ID, tw.Start, tw.End, sitters, from,
		"Got it. Asking your sitters now.", out)
}

func (s *SMSService) resolveContacts(ctx context.Context, tx *gorm.DB, h *domain.Household, task *domain.Task, from, text string, out *Outcome) error {
	parsed := parse.ContactList(text, s.DefaultRegion)
	if len(parsed) == 0 {
		out.sms(from, "Reply with sitter name + number, e.g. 'Sarah 801-555-1234; Jenna 801-555-4567'.", task.ID)
		return nil
	}

	var sitters []domain.Contact
	for _, p := range parsed {
		existing, err := repo.GetContactByPhone(ctx, tx, h.ID, p.Phone)
		if err == nil {
			sitters = append(sitters, *existing)
			continue
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		phone := p.Phone
		created, err := repo.CreateContact(ctx, tx, &domain.Contact{
			HouseholdID: h.ID,
			Name:        p.Name,
			Category:    domain.IntentSitter,
			Phone:       &phone,
			ChannelPref: domain.ChannelSMS,
		})
		if err != nil {
			return err
		}
		sitters = append(sitters, *created)
	}

	if task.RequestedStart == nil || task.RequestedEnd == nil {
		// Should not happen: need_contacts follows a resolved window.
		out.sms(from, "Saved. Asking them now.", task.ID)
		out.sms(from, "I lost the requested time window. Please resend your request like: 'Find a sitter Friday 6-10'.", task.ID)
		return nil
	}

	return s.startOutreach(ctx, tx, h, task.ID, *task.RequestedStart, *task.RequestedEnd, sitters, from,
		"Saved. Asking them now.", out)
}

// startOutreach fans the task out to the sitters, acknowledges the requester,
// and schedules the compile and retry jobs. Fan-out is idempotent per
// (task, contact, channel); the per-sitter asks go out after commit and the
// queued outreach rows flip to sent once they have.
func (s *SMSService) startOutreach(ctx context.Context, tx *gorm.DB, h *domain.Household, taskID string, start, end time.Time, sitters []domain.Contact, requester, ack string, out *Outcome) error {
	if len(sitters) > s.FanOutLimit {
		sitters = sitters[:s.FanOutLimit]
	}
	for _, c := range sitters {
		if c.Phone == nil {
			continue
		}
		if _, _, err := repo.EnsureOutreach(ctx, tx, taskID, c.ID, domain.ChannelSMS); err != nil {
			return err
		}
	}

	if err := repo.BeginCollecting(ctx, tx, taskID); err != nil {
		return err
	}

	out.sms(requester, ack, taskID)

	loc := householdLocation(h.Timezone)
	ask := availabilityAsk(start, end, loc)
	for _, c := range sitters {
		if c.Phone == nil {
			continue
		}
		out.sms(*c.Phone, ask, taskID)
	}
	out.add(MarkOutreachSent{TaskID: taskID})

	now := s.now().UTC()
	out.enqueue(JobCompileSitterOptions, taskPayload(taskID), now.Add(s.CompileDelay))
	out.enqueue(JobRetrySitterOutreach, taskPayload(taskID), now.Add(s.RetryOutreachDelay))
	return nil
}

// resolveChoice applies a numeric reply against the ranked pending options.
// Sitter tasks confirm immediately; clinic and therapy tasks move to booking
// and a confirmation call to the chosen contact is queued instead.
func (s *SMSService) resolveChoice(ctx context.Context, tx *gorm.DB, h *domain.Household, task *domain.Task, from, text string, out *Outcome) error {
	choice, ok := parse.ParseChoice(text)
	if !ok {
		out.sms(from, "Reply with a number (1, 2, or 3) so I don’t mix up requests.", task.ID)
		return nil
	}

	options, err := repo.ListPendingOptions(ctx, tx, task.ID, s.OptionListLimit)
	if err != nil {
		return err
	}
	if len(options) == 0 {
		out.sms(from, "No options are ready yet. I’m still waiting on replies.", task.ID)
		return nil
	}
	if choice < 1 || choice > len(options) {
		out.sms(from, fmt.Sprintf("Reply 1-%d.", len(options)), task.ID)
		return nil
	}

	selected := options[choice-1]
	if err := repo.SelectOption(ctx, tx, selected.ID); err != nil {
		return err
	}
	if err := repo.RejectOtherPending(ctx, tx, task.ID, selected.ID); err != nil {
		return err
	}

	if task.IntentType != domain.IntentSitter {
		return s.startBookingCall(ctx, tx, h, task, &selected, from, out)
	}

	if err := repo.FinishTask(ctx, tx, task.ID, domain.TaskConfirmed); err != nil {
		return err
	}

	out.sms(from, fmt.Sprintf("Confirmed: %s.", selected.Contact.Name), task.ID)
	if selected.Contact.Phone != nil {
		out.sms(*selected.Contact.Phone, "Confirmed, thank you! You're booked.", task.ID)
	}
	for _, o := range options {
		if o.ID == selected.ID || o.Contact.Phone == nil {
			continue
		}
		out.sms(*o.Contact.Phone, "Thanks! We’re covered this time.", task.ID)
	}
	return nil
}

// startBookingCall moves a clinic/therapy task to booking and queues the
// voice call that confirms the selected slot with the clinic. The task only
// confirms once that call succeeds.
func (s *SMSService) startBookingCall(ctx context.Context, tx *gorm.DB, h *domain.Household, task *domain.Task, selected *domain.TaskOption, from string, out *Outcome) error {
	if err := repo.MarkTaskBooking(ctx, tx, task.ID); err != nil {
		return err
	}

	optionID := selected.ID
	job, err := repo.CreateVoiceJob(ctx, tx, &domain.VoiceJob{
		HouseholdID: h.ID,
		TaskID:      task.ID,
		ContactID:   selected.ContactID,
		OptionID:    &optionID,
		Kind:        domain.VoiceKindBooking,
	})
	if err != nil {
		return err
	}

	out.enqueue(JobDialVoiceJob, voicePayload(job.ID), s.now().UTC())
	out.sms(from, fmt.Sprintf("Calling %s to confirm. I'll text you once it's booked.", selected.Contact.Name), task.ID)
	return nil
}

// newRequest handles requester text when nothing is awaiting a reply.
func (s *SMSService) newRequest(ctx context.Context, tx *gorm.DB, h *domain.Household, from, text string, occurredAt time.Time, out *Outcome) error {
	active, err := repo.CountActiveTasks(ctx, tx, h.ID)
	if err != nil {
		return err
	}
	if active >= int64(s.MaxActiveTasks) {
		out.sms(from, fmt.Sprintf("I can handle up to %d active requests at a time. Finish or cancel one, then text me again.", s.MaxActiveTasks), "")
		return nil
	}

	loc := householdLocation(h.Timezone)
	now := occurredAt.In(loc)

	tw, ok := parse.ParseSitterRequest(text, now)
	if !ok {
		if parse.IsSitterIntent(text) {
			meta, err := domain.EncodeMetadata(domain.SitterMetadata{Initiator: from, OriginalText: text})
			if err != nil {
				return err
			}
			task, err := repo.CreateTask(ctx, tx, &domain.Task{
				HouseholdID:          h.ID,
				IntentType:           domain.IntentSitter,
				Status:               domain.TaskIntentCreated,
				AwaitingParent:       true,
				AwaitingParentReason: ptr(domain.AwaitNeedTimeWindow),
				Metadata:             meta,
			})
			if err != nil {
				return err
			}
			out.sms(from, "What day and time? Reply like: 'Fri 6-10'.", task.ID)
			return nil
		}
		out.sms(from, "For now I can help with sitters. Text like: 'Find a sitter Friday 6-10'.", "")
		return nil
	}

	meta, err := domain.EncodeMetadata(domain.SitterMetadata{Initiator: from})
	if err != nil {
		return err
	}

	sitters, err := repo.ListOutreachableSitters(ctx, tx, h.ID)
	if err != nil {
		return err
	}

	parsedAt := s.now().UTC()
	start, end := tw.Start, tw.End

	if len(sitters) == 0 {
		task, err := repo.CreateTask(ctx, tx, &domain.Task{
			HouseholdID:          h.ID,
			IntentType:           domain.IntentSitter,
			Status:               domain.TaskIntentCreated,
			RequestedStart:       &start,
			RequestedEnd:         &end,
			AwaitingParent:       true,
			AwaitingParentReason: ptr(domain.AwaitNeedContacts),
			ParsedAt:             &parsedAt,
			Metadata:             meta,
		})
		if err != nil {
			return err
		}
		out.sms(from, "No sitters saved yet. Reply with sitter name + number (e.g., 'Sarah 801-555-1234').", task.ID)
		return nil
	}

	task, err := repo.CreateTask(ctx, tx, &domain.Task{
		HouseholdID:    h.ID,
		IntentType:     domain.IntentSitter,
		Status:         domain.TaskCollecting,
		RequestedStart: &start,
		RequestedEnd:   &end,
		ParsedAt:       &parsedAt,
		Metadata:       meta,
	})
	if err != nil {
		return err
	}

	return s.startOutreach(ctx, tx, h, task.ID, start, end, sitters, from,
		"Got it. Asking your sitters now.", out)
}

func ptr(s string) *string { return &s }
