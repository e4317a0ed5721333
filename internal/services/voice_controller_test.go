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

type bookingCall struct {
	household *domain.Household
	clinic    *domain.Contact
	task      *domain.Task
	option    *domain.TaskOption
	job       *domain.VoiceJob
}

// seedBookingCall builds a clinic task mid-booking: one selected option and
// a queued confirmation call for it.
func (e *testEnv) seedBookingCall(t *testing.T) *bookingCall {
	t.Helper()
	ctx := context.Background()
	h := e.seedHousehold(t)

	phone := "+18015552001"
	clinic, err := repo.CreateContact(ctx, e.db, &domain.Contact{
		HouseholdID: h.ID,
		Name:        "Peak Clinic",
		Category:    domain.IntentClinic,
		Phone:       &phone,
		ChannelPref: domain.ChannelSMS,
	})
	if err != nil {
		t.Fatalf("clinic contact: %v", err)
	}

	meta, _ := domain.EncodeMetadata(domain.ClinicMetadata{Initiator: testRequesterPhone, ClinicContactID: clinic.ID})
	task, err := repo.CreateTask(ctx, e.db, &domain.Task{
		HouseholdID: h.ID,
		IntentType:  domain.IntentClinic,
		Status:      domain.TaskBooking,
		Metadata:    meta,
	})
	if err != nil {
		t.Fatalf("task: %v", err)
	}

	start := time.Date(2026, time.September, 4, 18, 0, 0, 0, time.UTC)
	option, _, err := repo.AddOptionIfAbsent(ctx, e.db, task.ID, clinic.ID, start, start.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("option: %v", err)
	}
	if err := repo.SelectOption(ctx, e.db, option.ID); err != nil {
		t.Fatalf("select option: %v", err)
	}

	optionID := option.ID
	job, err := repo.CreateVoiceJob(ctx, e.db, &domain.VoiceJob{
		HouseholdID: h.ID,
		TaskID:      task.ID,
		ContactID:   clinic.ID,
		OptionID:    &optionID,
		Kind:        domain.VoiceKindBooking,
	})
	if err != nil {
		t.Fatalf("voice job: %v", err)
	}
	return &bookingCall{household: h, clinic: clinic, task: task, option: option, job: job}
}

// seedAvailabilityCall builds a collecting clinic task and a queued
// availability call to the clinic.
func (e *testEnv) seedAvailabilityCall(t *testing.T) *bookingCall {
	t.Helper()
	ctx := context.Background()
	h := e.seedHousehold(t)

	phone := "+18015552001"
	clinic, err := repo.CreateContact(ctx, e.db, &domain.Contact{
		HouseholdID: h.ID,
		Name:        "Peak Clinic",
		Category:    domain.IntentClinic,
		Phone:       &phone,
		ChannelPref: domain.ChannelSMS,
	})
	if err != nil {
		t.Fatalf("clinic contact: %v", err)
	}

	meta, _ := domain.EncodeMetadata(domain.ClinicMetadata{Initiator: testRequesterPhone, ClinicContactID: clinic.ID})
	task, err := repo.CreateTask(ctx, e.db, &domain.Task{
		HouseholdID: h.ID,
		IntentType:  domain.IntentClinic,
		Status:      domain.TaskCollecting,
		Metadata:    meta,
	})
	if err != nil {
		t.Fatalf("task: %v", err)
	}

	job, err := repo.CreateVoiceJob(ctx, e.db, &domain.VoiceJob{
		HouseholdID: h.ID,
		TaskID:      task.ID,
		ContactID:   clinic.ID,
		Kind:        domain.VoiceKindAvailability,
	})
	if err != nil {
		t.Fatalf("voice job: %v", err)
	}
	return &bookingCall{household: h, clinic: clinic, task: task, job: job}
}

// newVoiceController pins both clocks to a fixed instant so spoken dates
// and redial times are deterministic.
func newVoiceController(env *testEnv) *VoiceController {
	epoch := func() time.Time { return time.Date(2026, time.September, 1, 9, 0, 0, 0, time.UTC) }
	results := NewVoiceResultService(env.db, env.gw)
	results.Now = epoch
	ctl := NewVoiceController(env.db, env.gw, results)
	ctl.Now = epoch
	return ctl
}

func TestVoiceController_Answer_Booking(t *testing.T) {
	env := newTestEnv(t)
	call := env.seedBookingCall(t)
	ctl := newVoiceController(env)
	ctx := context.Background()

	script, err := ctl.Answer(ctx, call.job.ID, "CA123")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if script.Gather == nil || script.Gather.NextTurn != 1 || script.Gather.TimeoutSec != 4 {
		t.Fatalf("gather = %+v", script.Gather)
	}
	if !strings.Contains(script.Gather.Prompt, "Friday September 4 at 6:00 PM") {
		t.Fatalf("prompt = %q", script.Gather.Prompt)
	}
	if script.NoInputSay != "Sorry, I did not hear a response. Goodbye." {
		t.Fatalf("no-input = %q", script.NoInputSay)
	}

	job, err := repo.GetVoiceJob(ctx, env.db, call.job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if job.Status != domain.VoiceInProgress {
		t.Fatalf("job status = %s, want in_progress", job.Status)
	}
	if job.ProviderCallID == nil || *job.ProviderCallID != "CA123" {
		t.Fatalf("call id = %v", job.ProviderCallID)
	}
}

func TestVoiceController_Answer_Availability(t *testing.T) {
	env := newTestEnv(t)
	call := env.seedAvailabilityCall(t)
	ctl := newVoiceController(env)

	script, err := ctl.Answer(context.Background(), call.job.ID, "CA200")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if script.Gather == nil || script.Gather.TimeoutSec != 5 || script.Gather.NextTurn != 1 {
		t.Fatalf("gather = %+v", script.Gather)
	}
	if !strings.Contains(script.Gather.Prompt, "check appointment availability") {
		t.Fatalf("prompt = %q", script.Gather.Prompt)
	}
}

func TestVoiceController_Answer_Stale(t *testing.T) {
	env := newTestEnv(t)
	call := env.seedBookingCall(t)
	ctl := newVoiceController(env)
	ctx := context.Background()

	if err := repo.CancelVoiceJob(ctx, env.db, call.job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	script, err := ctl.Answer(ctx, call.job.ID, "CA123")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if script.Gather != nil || len(script.Say) != 1 || script.Say[0] != "This call is no longer needed. Goodbye." {
		t.Fatalf("script = %+v", script)
	}

	if _, err := ctl.Answer(ctx, "no-such-job", ""); !errors.Is(err, ErrVoiceJobNotFound) {
		t.Fatalf("err = %v, want ErrVoiceJobNotFound", err)
	}
}

func TestVoiceController_Gather_BookingYes(t *testing.T) {
	env := newTestEnv(t)
	call := env.seedBookingCall(t)
	ctl := newVoiceController(env)
	ctx := context.Background()

	script, err := ctl.Gather(ctx, call.job.ID, 1, "yes that works", "CA123")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(script.Say) != 1 || script.Say[0] != "Thank you. Goodbye." {
		t.Fatalf("script = %+v", script)
	}

	job, _ := repo.GetVoiceJob(ctx, env.db, call.job.ID)
	if job.Status != domain.VoiceCompleted {
		t.Fatalf("job status = %s, want completed", job.Status)
	}
	if got := env.reloadTask(t, call.task.ID); got.Status != domain.TaskConfirmed {
		t.Fatalf("task status = %s, want confirmed", got.Status)
	}

	msgs := env.smsBodiesTo(testRequesterPhone)
	if len(msgs) != 1 || msgs[0] != "Confirmed with Peak Clinic: Fri 9/4 6:00PM." {
		t.Fatalf("confirm text: %v", msgs)
	}

	// The spoken turn is kept as an inbound audit event.
	var n int64
	env.db.Model(&domain.MessageEvent{}).
		Where("provider_message_id = ?", "voice-transcript:CA123:1").Count(&n)
	if n != 1 {
		t.Fatalf("transcript audit rows = %d, want 1", n)
	}
}

func TestVoiceController_Gather_BookingNo(t *testing.T) {
	env := newTestEnv(t)
	call := env.seedBookingCall(t)
	ctl := newVoiceController(env)
	ctx := context.Background()

	script, err := ctl.Gather(ctx, call.job.ID, 1, "no, that's taken", "CA123")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(script.Say) != 1 || script.Say[0] != "Thank you. Goodbye." {
		t.Fatalf("script = %+v", script)
	}

	job, _ := repo.GetVoiceJob(ctx, env.db, call.job.ID)
	if job.Status != domain.VoiceFailed || job.LastError == nil || *job.LastError != FailClinicRejectedSlot {
		t.Fatalf("job = %s / %v", job.Status, job.LastError)
	}
	opt, err := repo.GetOption(ctx, env.db, call.option.ID)
	if err != nil || opt.Status != domain.OptionRejected {
		t.Fatalf("option = %+v (%v)", opt, err)
	}
	if got := env.reloadTask(t, call.task.ID); got.Status != domain.TaskOptionsReady || !got.AwaitingParent {
		t.Fatalf("task = %s awaiting=%v", got.Status, got.AwaitingParent)
	}
	msgs := env.smsBodiesTo(testRequesterPhone)
	if len(msgs) != 1 || msgs[0] != "They couldn’t confirm that slot. Reply with a new option number." {
		t.Fatalf("reject text: %v", msgs)
	}
}

func TestVoiceController_Gather_BookingUnclear(t *testing.T) {
	env := newTestEnv(t)
	call := env.seedBookingCall(t)
	ctl := newVoiceController(env)
	ctx := context.Background()

	// First unclear turn reprompts.
	script, err := ctl.Gather(ctx, call.job.ID, 1, "um hold on", "CA123")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if script.Gather == nil || script.Gather.NextTurn != 2 {
		t.Fatalf("script = %+v", script)
	}
	if script.Gather.Prompt != "Sorry, I did not catch that. Please say yes or no." {
		t.Fatalf("prompt = %q", script.Gather.Prompt)
	}

	// Unclear at the turn cap fails the call.
	script, err = ctl.Gather(ctx, call.job.ID, 2, "maybe", "CA123")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if script.Gather != nil {
		t.Fatalf("script should hang up: %+v", script)
	}
	job, _ := repo.GetVoiceJob(ctx, env.db, call.job.ID)
	if job.Status != domain.VoiceFailed || job.LastError == nil || *job.LastError != FailUnableToConfirmSlot {
		t.Fatalf("job = %s / %v", job.Status, job.LastError)
	}
}

func TestVoiceController_Gather_AvailabilityExtractsSlots(t *testing.T) {
	env := newTestEnv(t)
	call := env.seedAvailabilityCall(t)
	ctl := newVoiceController(env)
	ctx := context.Background()

	speech := "We have September 11 at 10am and September 12 at 2:30pm"
	script, err := ctl.Gather(ctx, call.job.ID, 1, speech, "CA200")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(script.Say) != 1 || script.Say[0] != "Thank you. Goodbye." {
		t.Fatalf("script = %+v", script)
	}

	job, _ := repo.GetVoiceJob(ctx, env.db, call.job.ID)
	if job.Status != domain.VoiceCompleted || job.ResultJSON == nil {
		t.Fatalf("job = %+v", job)
	}
	if !strings.Contains(*job.ResultJSON, "offeredSlots") {
		t.Fatalf("result = %q", *job.ResultJSON)
	}

	options, err := repo.ListPendingOptions(ctx, env.db, call.task.ID, 3)
	if err != nil || len(options) != 2 {
		t.Fatalf("options = %v (%v)", options, err)
	}
	want := time.Date(2026, time.September, 11, 10, 0, 0, 0, time.UTC)
	if !options[0].SlotStart.Equal(want) {
		t.Fatalf("first slot = %v, want %v", options[0].SlotStart, want)
	}
	if got := options[0].SlotEnd.Sub(options[0].SlotStart); got != 30*time.Minute {
		t.Fatalf("slot duration = %v", got)
	}

	if got := env.reloadTask(t, call.task.ID); got.Status != domain.TaskOptionsReady || !got.AwaitingParent {
		t.Fatalf("task = %s awaiting=%v", got.Status, got.AwaitingParent)
	}
	msgs := env.smsBodiesTo(testRequesterPhone)
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0], "Options found:") {
		t.Fatalf("prompt: %v", msgs)
	}
}

func TestVoiceController_Gather_AvailabilityNoTimes(t *testing.T) {
	env := newTestEnv(t)
	call := env.seedAvailabilityCall(t)
	ctl := newVoiceController(env)
	ctx := context.Background()

	script, err := ctl.Gather(ctx, call.job.ID, 1, "let me check with the front desk", "CA200")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if script.Gather == nil || script.Gather.NextTurn != 2 || script.Gather.TimeoutSec != 6 {
		t.Fatalf("reprompt = %+v", script)
	}

	script, err = ctl.Gather(ctx, call.job.ID, 2, "still nothing", "CA200")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(script.Say) != 1 || script.Say[0] != "Sorry. I was not able to capture times. Goodbye." {
		t.Fatalf("script = %+v", script)
	}
	job, _ := repo.GetVoiceJob(ctx, env.db, call.job.ID)
	if job.Status != domain.VoiceFailed || job.LastError == nil || *job.LastError != FailUnableToExtractSlots {
		t.Fatalf("job = %s / %v", job.Status, job.LastError)
	}
}

func TestVoiceController_Status(t *testing.T) {
	t.Run("no answer schedules redial", func(t *testing.T) {
		env := newTestEnv(t)
		call := env.seedBookingCall(t)
		ctl := newVoiceController(env)
		ctx := context.Background()

		if err := ctl.Status(ctx, call.job.ID, "no-answer", "CA123"); err != nil {
			t.Fatalf("status: %v", err)
		}
		job, _ := repo.GetVoiceJob(ctx, env.db, call.job.ID)
		if job.Status != domain.VoiceFailed || job.LastError == nil || *job.LastError != "call_status:no-answer" {
			t.Fatalf("job = %s / %v", job.Status, job.LastError)
		}
		dials := env.queue.named(JobDialVoiceJob)
		if len(dials) != 1 {
			t.Fatalf("dial jobs: %v", env.queue.Jobs)
		}
		wantAfter := ctl.Now().UTC().Add(ctl.RedialBooking)
		if !dials[0].RunAfter.Equal(wantAfter) {
			t.Fatalf("redial at %v, want %v", dials[0].RunAfter, wantAfter)
		}
	})

	t.Run("exhausted attempts stop redialing", func(t *testing.T) {
		env := newTestEnv(t)
		call := env.seedBookingCall(t)
		ctl := newVoiceController(env)
		ctx := context.Background()

		if err := env.db.Model(&domain.VoiceJob{}).Where("id = ?", call.job.ID).
			Update("attempt", 3).Error; err != nil {
			t.Fatalf("set attempts: %v", err)
		}
		if err := ctl.Status(ctx, call.job.ID, "busy", "CA123"); err != nil {
			t.Fatalf("status: %v", err)
		}
		if len(env.queue.Jobs) != 0 {
			t.Fatalf("no redial expected: %v", env.queue.Jobs)
		}
	})

	t.Run("completed without result fails the job", func(t *testing.T) {
		env := newTestEnv(t)
		call := env.seedAvailabilityCall(t)
		ctl := newVoiceController(env)
		ctx := context.Background()

		if err := ctl.Status(ctx, call.job.ID, "completed", "CA200"); err != nil {
			t.Fatalf("status: %v", err)
		}
		job, _ := repo.GetVoiceJob(ctx, env.db, call.job.ID)
		if job.Status != domain.VoiceFailed || job.LastError == nil || *job.LastError != FailCompletedWithoutResult {
			t.Fatalf("job = %s / %v", job.Status, job.LastError)
		}
	})

	t.Run("terminal job is never overridden", func(t *testing.T) {
		env := newTestEnv(t)
		call := env.seedBookingCall(t)
		ctl := newVoiceController(env)
		ctx := context.Background()

		result := `{"kind":"booking","result":"yes"}`
		if err := repo.CompleteVoiceJob(ctx, env.db, call.job.ID, result); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if err := ctl.Status(ctx, call.job.ID, "failed", "CA123"); err != nil {
			t.Fatalf("status: %v", err)
		}
		job, _ := repo.GetVoiceJob(ctx, env.db, call.job.ID)
		if job.Status != domain.VoiceCompleted {
			t.Fatalf("job status = %s, want completed", job.Status)
		}
	})
}
