package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hearthkeep/hearth/internal/domain"
	"github.com/hearthkeep/hearth/internal/repo"
)

func TestHouseholdIDFromAddress(t *testing.T) {
	id := "8f14e45f-ceea-4e17-a7a1-54c2a2f0d3c7"
	tests := []struct {
		name   string
		addr   string
		want   string
		wantOK bool
	}{
		{"plus tag", "assistant+" + id + "@hearth.test", id, true},
		{"uppercase tag", "assistant+" + strings.ToUpper(id) + "@hearth.test", id, true},
		{"surrounding space", "  assistant+" + id + "@hearth.test  ", id, true},
		{"no plus", "assistant@hearth.test", "", false},
		{"empty tag", "assistant+@hearth.test", "", false},
		{"not a uuid", "assistant+sarah@hearth.test", "", false},
		{"no at sign", "assistant+" + id, "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := HouseholdIDFromAddress(tt.addr)
			if got != tt.want || ok != tt.wantOK {
				t.Fatalf("HouseholdIDFromAddress(%q) = (%q, %v), want (%q, %v)", tt.addr, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func emailIn(h *domain.Household, id, from, text string) InboundEmail {
	return InboundEmail{
		Provider:          "resend",
		ProviderMessageID: id,
		HouseholdID:       h.ID,
		From:              from,
		To:                "assistant+" + h.ID + "@hearth.test",
		Subject:           "Re: Availability check",
		Text:              text,
		OccurredAt:        time.Now().UTC(),
	}
}

func (e *testEnv) seedEmailSitter(t *testing.T, h *domain.Household, name, addr string) *domain.Contact {
	t.Helper()
	c, err := repo.CreateContact(context.Background(), e.db, &domain.Contact{
		HouseholdID: h.ID,
		Name:        name,
		Category:    domain.IntentSitter,
		Email:       &addr,
		ChannelPref: domain.ChannelEmail,
	})
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	return c
}

func TestEmailService_UnknownHousehold(t *testing.T) {
	env := newTestEnv(t)
	svc := NewEmailService(env.db, env.gw)

	in := InboundEmail{
		Provider:          "resend",
		ProviderMessageID: "e1",
		HouseholdID:       "no-such-household",
		From:              "sarah@example.com",
		To:                "assistant+no-such-household@hearth.test",
		Text:              "yes",
	}
	if err := svc.Process(context.Background(), in); !errors.Is(err, ErrUnroutableMessage) {
		t.Fatalf("err = %v, want ErrUnroutableMessage", err)
	}
}

func TestEmailService_YesReplyPromptsOverSMS(t *testing.T) {
	env := newTestEnv(t)
	h := env.seedHousehold(t)
	sitter := env.seedEmailSitter(t, h, "Sarah", "sarah@example.com")
	start, end := testWindow()
	task := env.seedCollectingTask(t, h, start, end, sitter)

	svc := NewEmailService(env.db, env.gw)
	svc.PromptMinOptions = 1
	ctx := context.Background()

	if err := svc.Process(ctx, emailIn(h, "e1", "Sarah@Example.com", "Yes, happy to!")); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := env.reloadTask(t, task.ID)
	if got.Status != domain.TaskOptionsReady || !got.AwaitingParent {
		t.Fatalf("task = %s awaiting=%v, want options_ready awaiting", got.Status, got.AwaitingParent)
	}
	if n, _ := repo.CountPendingOptions(ctx, env.db, task.ID); n != 1 {
		t.Fatalf("pending options = %d, want 1", n)
	}

	// The prompt reaches the initiator as a text, not an email.
	prompts := env.smsBodiesTo(testRequesterPhone)
	if len(prompts) != 1 || !strings.HasPrefix(prompts[0], "Options found:") {
		t.Fatalf("prompt: %v", prompts)
	}
	if len(env.email.Sent) != 0 {
		t.Fatalf("no email should go out on a clean yes: %v", env.email.Sent)
	}
}

func TestEmailService_UnknownReplyAsksByEmail(t *testing.T) {
	env := newTestEnv(t)
	h := env.seedHousehold(t)
	sitter := env.seedEmailSitter(t, h, "Sarah", "sarah@example.com")
	start, end := testWindow()
	env.seedCollectingTask(t, h, start, end, sitter)

	svc := NewEmailService(env.db, env.gw)
	if err := svc.Process(context.Background(), emailIn(h, "e1", "sarah@example.com", "what's the address?")); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(env.email.Sent) != 1 {
		t.Fatalf("emails: %v", env.email.Sent)
	}
	m := env.email.Sent[0]
	if m.To != "sarah@example.com" || m.Subject != "Quick reply needed" || m.Text != "Quick reply: YES or NO?" {
		t.Fatalf("clarify email = %+v", m)
	}
}

func TestEmailService_StopAndStart(t *testing.T) {
	env := newTestEnv(t)
	h := env.seedHousehold(t)
	sitter := env.seedEmailSitter(t, h, "Sarah", "sarah@example.com")
	svc := NewEmailService(env.db, env.gw)
	ctx := context.Background()

	if err := svc.Process(ctx, emailIn(h, "e1", "sarah@example.com", "STOP")); err != nil {
		t.Fatalf("stop: %v", err)
	}
	c, err := repo.GetContact(ctx, env.db, sitter.ID, h.ID)
	if err != nil || !c.EmailOptedOut {
		t.Fatalf("contact should be opted out (%v)", err)
	}
	if len(env.email.Sent) != 1 || env.email.Sent[0].Subject != "Opted out" {
		t.Fatalf("stop ack: %v", env.email.Sent)
	}

	// Opted-out replies are dropped without recording a response.
	start, end := testWindow()
	task := env.seedCollectingTask(t, h, start, end, sitter)
	if err := svc.Process(ctx, emailIn(h, "e2", "sarah@example.com", "yes")); err != nil {
		t.Fatalf("opted-out reply: %v", err)
	}
	if n, _ := repo.CountResponses(ctx, env.db, task.ID); n != 0 {
		t.Fatalf("opted-out contact must not record responses")
	}

	if err := svc.Process(ctx, emailIn(h, "e3", "sarah@example.com", "start")); err != nil {
		t.Fatalf("start: %v", err)
	}
	c, _ = repo.GetContact(ctx, env.db, sitter.ID, h.ID)
	if c.EmailOptedOut {
		t.Fatalf("contact should be re-subscribed")
	}
	if len(env.email.Sent) != 2 || env.email.Sent[1].Subject != "Re-subscribed" {
		t.Fatalf("start ack: %v", env.email.Sent)
	}
}

func TestEmailService_UnknownSenderIgnored(t *testing.T) {
	env := newTestEnv(t)
	h := env.seedHousehold(t)
	svc := NewEmailService(env.db, env.gw)

	if err := svc.Process(context.Background(), emailIn(h, "e1", "stranger@example.com", "yes")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(env.email.Sent) != 0 || len(env.sms.Sent) != 0 {
		t.Fatalf("unknown senders get no reply: %v %v", env.email.Sent, env.sms.Sent)
	}
}
