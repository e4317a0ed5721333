package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hearthkeep/hearth/internal/config"
	"github.com/hearthkeep/hearth/internal/domain"
	"github.com/hearthkeep/hearth/internal/repo"
	"github.com/hearthkeep/hearth/internal/services"
)

func TestEscXML(t *testing.T) {
	cases := []struct{ in, want string }{
		{`Tom & Jerry`, `Tom &amp; Jerry`},
		{`a < b > c`, `a &lt; b &gt; c`},
		{`say "yes" or 'no'`, `say &quot;yes&quot; or &apos;no&apos;`},
		{`plain`, `plain`},
	}
	for _, tc := range cases {
		if got := escXML(tc.in); got != tc.want {
			t.Errorf("escXML(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRenderScript(t *testing.T) {
	t.Run("say only", func(t *testing.T) {
		got := renderScript(&services.CallScript{Say: []string{"Thank you. Goodbye."}}, "")
		want := `<?xml version="1.0" encoding="UTF-8"?><Response><Say>Thank you. Goodbye.</Say><Hangup/></Response>`
		if got != want {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("gather with fallback", func(t *testing.T) {
		got := renderScript(&services.CallScript{
			Gather:     &services.GatherSpec{Prompt: "Yes or no?", TimeoutSec: 4, NextTurn: 1},
			NoInputSay: "Sorry, I did not hear a response. Goodbye.",
		}, "/webhooks/twilio/voice/gather?jobId=j1&turn=1")
		want := `<?xml version="1.0" encoding="UTF-8"?><Response>` +
			`<Gather input="speech" action="/webhooks/twilio/voice/gather?jobId=j1&amp;turn=1" method="POST" timeout="4" speechTimeout="auto">` +
			`<Say>Yes or no?</Say></Gather>` +
			`<Say>Sorry, I did not hear a response. Goodbye.</Say><Hangup/></Response>`
		if got != want {
			t.Fatalf("got %q", got)
		}
	})
}

func TestGatherActionURL(t *testing.T) {
	withToken := &Handler{Webhooks: config.WebhooksConfig{VoiceWebhookToken: "ivr-sekret"}}
	if got := withToken.gatherActionURL("j1", 2); got != "/webhooks/twilio/voice/gather?jobId=j1&token=ivr-sekret&turn=2" {
		t.Fatalf("got %q", got)
	}
	bare := &Handler{}
	if got := bare.gatherActionURL("j1", 1); got != "/webhooks/twilio/voice/gather?jobId=j1&turn=1" {
		t.Fatalf("got %q", got)
	}
}

func TestAdminTokenParsing(t *testing.T) {
	cases := []struct{ header, want string }{
		{"Bearer abc", "abc"},
		{"Bearer  abc ", "abc"},
		{"Basic b3BzOmFiYw==", "abc"}, // ops:abc
		{"basic b3BzOmFiYw==", "abc"},
		{"Basic !!!", ""},
		{"Basic b3BzYWJj", ""}, // no colon
		{"Digest whatever", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := adminToken(tc.header); got != tc.want {
			t.Errorf("adminToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

// seedBookingJob prepares a booking voice call: a clinic task in booking
// state with a selected option and a queued voice job.
func seedBookingJob(t *testing.T, env *webhookEnv) *domain.VoiceJob {
	t.Helper()
	ctx := context.Background()
	h := env.seedHousehold(t)

	phone := "+18015552001"
	clinic, err := repo.CreateContact(ctx, env.db, &domain.Contact{
		HouseholdID: h.ID,
		Name:        "Peak Clinic",
		Category:    domain.IntentClinic,
		Phone:       &phone,
		ChannelPref: domain.ChannelSMS,
	})
	if err != nil {
		t.Fatalf("contact: %v", err)
	}
	meta, _ := domain.EncodeMetadata(domain.ClinicMetadata{Initiator: testRequester, ClinicContactID: clinic.ID})
	task, err := repo.CreateTask(ctx, env.db, &domain.Task{
		HouseholdID: h.ID,
		IntentType:  domain.IntentClinic,
		Status:      domain.TaskBooking,
		Metadata:    meta,
	})
	if err != nil {
		t.Fatalf("task: %v", err)
	}

	start := time.Date(2026, time.September, 4, 18, 0, 0, 0, time.UTC)
	opt, _, err := repo.AddOptionIfAbsent(ctx, env.db, task.ID, clinic.ID, start, start.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("option: %v", err)
	}
	if err := env.db.Model(&domain.TaskOption{}).Where("id = ?", opt.ID).
		Update("status", domain.OptionSelected).Error; err != nil {
		t.Fatalf("select option: %v", err)
	}

	job, err := repo.CreateVoiceJob(ctx, env.db, &domain.VoiceJob{
		HouseholdID: h.ID,
		TaskID:      task.ID,
		ContactID:   clinic.ID,
		OptionID:    &opt.ID,
		Kind:        domain.VoiceKindBooking,
		Status:      domain.VoiceQueued,
	})
	if err != nil {
		t.Fatalf("voice job: %v", err)
	}
	return job
}

func TestVoiceAnswer(t *testing.T) {
	t.Run("rejects a bad token", func(t *testing.T) {
		env := newWebhookEnv(t)
		w := env.postForm(t, "/webhooks/twilio/voice/answer?jobId=j1&token=wrong", url.Values{})
		if w.Code != http.StatusForbidden || w.Body.String() != "forbidden" {
			t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
		}
	})

	t.Run("missing job hangs up politely", func(t *testing.T) {
		env := newWebhookEnv(t)
		w := env.postForm(t, "/webhooks/twilio/voice/answer?token=ivr-sekret", url.Values{})
		if w.Code != http.StatusOK {
			t.Fatalf("status=%d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "<Say>Sorry, something went wrong. Goodbye.</Say><Hangup/>") {
			t.Fatalf("body=%q", w.Body.String())
		}
	})

	t.Run("unknown job hangs up politely", func(t *testing.T) {
		env := newWebhookEnv(t)
		w := env.postForm(t, "/webhooks/twilio/voice/answer?jobId=ghost&token=ivr-sekret", url.Values{})
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Sorry, something went wrong.") {
			t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
		}
	})

	t.Run("booking call opens with a confirm gather", func(t *testing.T) {
		env := newWebhookEnv(t)
		job := seedBookingJob(t, env)

		w := env.postForm(t, "/webhooks/twilio/voice/answer?jobId="+job.ID+"&token=ivr-sekret",
			url.Values{"CallSid": {"CA123"}})
		if w.Code != http.StatusOK {
			t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
		}
		if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
			t.Fatalf("content type %q", ct)
		}
		body := w.Body.String()
		wantAction := `action="/webhooks/twilio/voice/gather?jobId=` + job.ID + `&amp;token=ivr-sekret&amp;turn=1"`
		if !strings.Contains(body, wantAction) {
			t.Fatalf("body=%q", body)
		}
		if !strings.Contains(body, `timeout="4"`) || !strings.Contains(body, "Friday September 4 at 6:00 PM") {
			t.Fatalf("body=%q", body)
		}

		reloaded, err := repo.GetVoiceJob(context.Background(), env.db, job.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if reloaded.Status != domain.VoiceInProgress || reloaded.ProviderCallID == nil || *reloaded.ProviderCallID != "CA123" {
			t.Fatalf("job = %+v", reloaded)
		}
	})
}

func TestVoiceGather(t *testing.T) {
	t.Run("yes confirms the booking", func(t *testing.T) {
		env := newWebhookEnv(t)
		job := seedBookingJob(t, env)

		w := env.postForm(t, "/webhooks/twilio/voice/gather?jobId="+job.ID+"&token=ivr-sekret&turn=1",
			url.Values{"SpeechResult": {"yes that works"}, "CallSid": {"CA123"}})
		if w.Code != http.StatusOK {
			t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), "<Say>Thank you. Goodbye.</Say>") {
			t.Fatalf("body=%q", w.Body.String())
		}

		reloaded, err := repo.GetVoiceJob(context.Background(), env.db, job.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if reloaded.Status != domain.VoiceCompleted {
			t.Fatalf("job status = %s", reloaded.Status)
		}
	})

	t.Run("bad turn value defaults to the first turn", func(t *testing.T) {
		env := newWebhookEnv(t)
		job := seedBookingJob(t, env)

		w := env.postForm(t, "/webhooks/twilio/voice/gather?jobId="+job.ID+"&token=ivr-sekret&turn=banana",
			url.Values{"SpeechResult": {"hmm let me think"}})
		if w.Code != http.StatusOK {
			t.Fatalf("status=%d", w.Code)
		}
		// Unclear speech on turn one reprompts for turn two.
		if !strings.Contains(w.Body.String(), "&amp;turn=2") {
			t.Fatalf("body=%q", w.Body.String())
		}
	})
}

func TestVoiceStatus(t *testing.T) {
	env := newWebhookEnv(t)
	w := env.postForm(t, "/webhooks/twilio/voice/status?token=ivr-sekret", url.Values{})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || !resp["ok"] {
		t.Fatalf("body=%q err=%v", w.Body.String(), err)
	}
}
