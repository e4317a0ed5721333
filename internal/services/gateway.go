// Package services – messaging gateway.
//
// The gateway executes Outcome actions after a decision transaction commits:
// it sends through the channel adapters, appends each send to the message
// audit log, flips outreach rows to sent, and enqueues durable jobs. Send
// failures are logged but do not abort the remaining actions; the persisted
// state is already consistent.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/adapters/email"
	"github.com/hearthkeep/hearth/internal/adapters/sms"
	"github.com/hearthkeep/hearth/internal/domain"
	"github.com/hearthkeep/hearth/internal/repo"
)

// Enqueuer schedules durable delayed jobs. The jobs package provides the
// gorm-backed implementation.
type Enqueuer interface {
	Enqueue(ctx context.Context, name, payload string, runAfter time.Time) error
}

// Gateway is the single outbound path of the core.
type Gateway struct {
	DB    *gorm.DB
	SMS   sms.Adapter
	Email email.Adapter
	Jobs  Enqueuer
	Log   zerolog.Logger

	// EmailFrom is the sender address for outbound email.
	EmailFrom string
	// EmailReplyTo is the base reply-to address; the household ID is
	// inserted as a plus tag so replies route back.
	EmailReplyTo string
}

// Execute runs every action in the outcome. The household provides the SMS
// sender number and the email routing tag.
func (g *Gateway) Execute(ctx context.Context, hh *domain.Household, out *Outcome) {
	if out == nil || len(out.Actions) == 0 {
		return
	}
	ctx, span := otel.Tracer("hearth/services").Start(ctx, "gateway.execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("household_id", hh.ID),
			attribute.Int("actions", len(out.Actions)),
		))
	defer span.End()

	for _, a := range out.Actions {
		switch act := a.(type) {
		case SendSMS:
			g.sendSMS(ctx, hh, act)
		case SendEmail:
			g.sendEmail(ctx, hh, act)
		case EnqueueJob:
			if g.Jobs == nil {
				continue
			}
			if err := g.Jobs.Enqueue(ctx, act.Name, act.Payload, act.RunAfter); err != nil {
				g.Log.Error().Err(err).Str("job", act.Name).Msg("enqueue failed")
			}
		case MarkOutreachSent:
			outreach, err := repo.ListOutreachForTask(ctx, g.DB, act.TaskID)
			if err != nil {
				g.Log.Error().Err(err).Str("task_id", act.TaskID).Msg("list outreach failed")
				continue
			}
			for _, o := range outreach {
				if o.Status != domain.OutreachQueued {
					continue
				}
				if err := repo.MarkOutreachSent(ctx, g.DB, o.ID); err != nil {
					g.Log.Error().Err(err).Str("outreach_id", o.ID).Msg("mark outreach sent failed")
				}
			}
		}
	}
}

func (g *Gateway) sendSMS(ctx context.Context, hh *domain.Household, act SendSMS) {
	res, err := g.SMS.Send(ctx, hh.AssistantPhone, act.To, act.Body)
	if err != nil {
		g.Log.Error().Err(err).Str("to", act.To).Msg("sms send failed")
		return
	}
	g.logOutbound(ctx, hh.ID, act.TaskID, domain.ChannelSMS,
		hh.AssistantPhone, act.To, act.Body, res.Provider, res.ProviderMessageID)
}

func (g *Gateway) sendEmail(ctx context.Context, hh *domain.Household, act SendEmail) {
	if g.Email == nil || g.EmailFrom == "" {
		g.Log.Warn().Str("to", act.To).Msg("email not configured, dropping send")
		return
	}
	replyTo := act.ReplyTo
	if replyTo == "" {
		replyTo = ReplyToForHousehold(g.EmailReplyTo, hh.ID)
	}
	res, err := g.Email.Send(ctx, email.Message{
		From:    g.EmailFrom,
		To:      act.To,
		Subject: act.Subject,
		Text:    act.Body,
		ReplyTo: replyTo,
	})
	if err != nil {
		g.Log.Error().Err(err).Str("to", act.To).Msg("email send failed")
		return
	}
	g.logOutbound(ctx, hh.ID, act.TaskID, domain.ChannelEmail,
		g.EmailFrom, act.To, act.Body, res.Provider, res.ProviderMessageID)
}

func (g *Gateway) logOutbound(ctx context.Context, householdID, taskID, channel, from, to, body, provider, providerMessageID string) {
	ev := &domain.MessageEvent{
		HouseholdID:       householdID,
		Direction:         domain.DirectionOutbound,
		Channel:           channel,
		FromAddr:          from,
		ToAddr:            to,
		Body:              body,
		Provider:          provider,
		ProviderMessageID: providerMessageID,
		OccurredAt:        time.Now().UTC(),
	}
	if taskID != "" {
		ev.TaskID = &taskID
	}
	if err := repo.AppendMessageEvent(ctx, g.DB, ev); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		g.Log.Error().Err(err).Str("to", to).Msg("outbound audit log failed")
	}
}

// ReplyToForHousehold inserts the household ID as a plus tag into the base
// reply-to address: support@x.test becomes support+<id>@x.test. Empty when
// no base is configured.
func ReplyToForHousehold(base, householdID string) string {
	if base == "" {
		return ""
	}
	at := strings.LastIndex(base, "@")
	if at <= 0 {
		return ""
	}
	return fmt.Sprintf("%s+%s@%s", base[:at], householdID, base[at+1:])
}
