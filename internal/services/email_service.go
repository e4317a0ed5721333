package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/domain"
	"github.com/hearthkeep/hearth/internal/parse"
	"github.com/hearthkeep/hearth/internal/repo"
)

// InboundEmail is one provider-delivered inbound email, already reduced to
// plain text by the webhook handler.
type InboundEmail struct {
	Provider          string
	ProviderMessageID string
	HouseholdID       string
	From              string
	To                string
	Subject           string
	Text              string
	OccurredAt        time.Time
}

// EmailService orchestrates inbound email replies from contacts. Email is a
// contact-only channel: requesters always talk to the assistant over SMS, so
// the option prompt produced here still goes out as a text to the initiator.
type EmailService struct {
	DB      *gorm.DB
	Gateway *Gateway

	PromptMinOptions int
	OptionListLimit  int

	Now func() time.Time
}

// NewEmailService constructs an EmailService with the fixed product policy
// defaults.
func NewEmailService(db *gorm.DB, gw *Gateway) *EmailService {
	return &EmailService{
		DB:               db,
		Gateway:          gw,
		PromptMinOptions: 3,
		OptionListLimit:  3,
		Now:              time.Now,
	}
}

// HouseholdIDFromAddress extracts the household routing tag from a plus-
// addressed recipient such as "assistant+<uuid>@example.com". The second
// return is false when the address carries no valid tag.
func HouseholdIDFromAddress(addr string) (string, bool) {
	addr = strings.TrimSpace(addr)
	at := strings.IndexByte(addr, '@')
	if at <= 0 {
		return "", false
	}
	local := addr[:at]
	plus := strings.LastIndexByte(local, '+')
	if plus < 0 || plus == len(local)-1 {
		return "", false
	}
	tag := local[plus+1:]
	if _, err := uuid.Parse(tag); err != nil {
		return "", false
	}
	return strings.ToLower(tag), true
}

// Process decides and then executes: HandleInbound followed by the gateway.
func (s *EmailService) Process(ctx context.Context, in InboundEmail) error {
	hh, out, err := s.HandleInbound(ctx, in)
	if err != nil {
		return err
	}
	s.Gateway.Execute(ctx, hh, out)
	return nil
}

// HandleInbound runs the decision transaction for one inbound email. The
// household comes from the recipient's plus tag, resolved by the handler and
// passed in HouseholdID; an unknown household returns ErrUnroutableMessage.
func (s *EmailService) HandleInbound(ctx context.Context, in InboundEmail) (*domain.Household, *Outcome, error) {
	from := strings.ToLower(strings.TrimSpace(in.From))
	text := strings.TrimSpace(in.Text)
	if in.OccurredAt.IsZero() {
		in.OccurredAt = s.Now()
	}

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

		err = repo.AppendMessageEvent(ctx, tx, &domain.MessageEvent{
			HouseholdID:       h.ID,
			Direction:         domain.DirectionInbound,
			Channel:           domain.ChannelEmail,
			FromAddr:          from,
			ToAddr:            strings.TrimSpace(in.To),
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

		contact, err := repo.GetContactByEmail(ctx, tx, h.ID, from)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		contactEmail := from
		if contact.Email != nil {
			contactEmail = *contact.Email
		}

		if isStopCommand(text) {
			if err := repo.SetContactEmailOptOut(ctx, tx, contact.ID, true); err != nil {
				return err
			}
			out.email(contactEmail, "Opted out",
				"You're opted out of email messages. Reply START to re-subscribe.", "", "")
			return nil
		}
		if isStartCommand(text) {
			if err := repo.SetContactEmailOptOut(ctx, tx, contact.ID, false); err != nil {
				return err
			}
			out.email(contactEmail, "Re-subscribed",
				"You're re-subscribed for email messages. Reply STOP to opt out.", "", "")
			return nil
		}
		if contact.EmailOptedOut {
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
			out.email(contactEmail, "Quick reply needed", "Quick reply: YES or NO?", "", task.ID)
			return nil
		}

		if yn == parse.Yes && task.RequestedStart != nil && task.RequestedEnd != nil {
			if _, _, err := repo.AddOptionIfAbsent(ctx, tx, task.ID, contact.ID, *task.RequestedStart, *task.RequestedEnd); err != nil {
				return err
			}
		}

		return promptRequesterIfReady(ctx, tx, h, task, "", promptPolicy{
			MinOptions: s.PromptMinOptions,
			ListLimit:  s.OptionListLimit,
		}, out)
	})
	if err != nil {
		return nil, nil, err
	}
	return hh, out, nil
}
