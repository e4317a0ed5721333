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

func voiceResult(call *bookingCall, id string, slots ...VoiceSlot) InboundVoiceResult {
	return InboundVoiceResult{
		Provider:          "twilio",
		ProviderMessageID: id,
		HouseholdID:       call.household.ID,
		TaskID:            call.task.ID,
		ContactID:         call.clinic.ID,
		Transcript:        "We have a few openings",
		OfferedSlots:      slots,
	}
}

func newResultService(env *testEnv) *VoiceResultService {
	svc := NewVoiceResultService(env.db, env.gw)
	svc.Now = func() time.Time { return time.Date(2026, time.September, 1, 9, 0, 0, 0, time.UTC) }
	return svc
}

func TestVoiceResultService_SlotsBecomeOptions(t *testing.T) {
	env := newTestEnv(t)
	call := env.seedAvailabilityCall(t)
	svc := newResultService(env)
	ctx := context.Background()

	s1 := time.Date(2026, time.September, 11, 10, 0, 0, 0, time.UTC)
	s2 := time.Date(2026, time.September, 12, 14, 30, 0, 0, time.UTC)
	in := voiceResult(call, "r1",
		VoiceSlot{Start: s1, End: s1.Add(30 * time.Minute)},
		VoiceSlot{Start: s2, End: s2.Add(30 * time.Minute)},
	)
	if err := svc.Process(ctx, in); err != nil {
		t.Fatalf("process: %v", err)
	}

	options, err := repo.ListPendingOptions(ctx, env.db, call.task.ID, 3)
	if err != nil || len(options) != 2 {
		t.Fatalf("options = %v (%v)", options, err)
	}
	if got := env.reloadTask(t, call.task.ID); got.Status != domain.TaskOptionsReady || !got.AwaitingParent {
		t.Fatalf("task = %s awaiting=%v", got.Status, got.AwaitingParent)
	}
	msgs := env.smsBodiesTo(testRequesterPhone)
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0], "Options found:") {
		t.Fatalf("prompt: %v", msgs)
	}
}

func TestVoiceResultService_DuplicateResultIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	call := env.seedAvailabilityCall(t)
	svc := newResultService(env)
	ctx := context.Background()

	s1 := time.Date(2026, time.September, 11, 10, 0, 0, 0, time.UTC)
	in := voiceResult(call, "r1", VoiceSlot{Start: s1, End: s1.Add(30 * time.Minute)})
	if err := svc.Process(ctx, in); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	_, out, err := svc.HandleResult(ctx, in)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !out.Duplicate || len(out.Actions) != 0 {
		t.Fatalf("retry must be a duplicate no-op: %+v", out)
	}
	if n, _ := repo.CountPendingOptions(ctx, env.db, call.task.ID); n != 1 {
		t.Fatalf("options = %d, want 1", n)
	}
}

func TestVoiceResultService_SlotCap(t *testing.T) {
	env := newTestEnv(t)
	call := env.seedAvailabilityCall(t)
	svc := newResultService(env)
	ctx := context.Background()

	base := time.Date(2026, time.September, 11, 9, 0, 0, 0, time.UTC)
	var slots []VoiceSlot
	for i := 0; i < 5; i++ {
		s := base.Add(time.Duration(i) * time.Hour)
		slots = append(slots, VoiceSlot{Start: s, End: s.Add(30 * time.Minute)})
	}
	if err := svc.Process(ctx, voiceResult(call, "r1", slots...)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if n, _ := repo.CountPendingOptions(ctx, env.db, call.task.ID); n != int64(svc.MaxSlots) {
		t.Fatalf("options = %d, want %d", n, svc.MaxSlots)
	}
}

func TestVoiceResultService_PromptSlotBusyReschedulesCompile(t *testing.T) {
	env := newTestEnv(t)
	call := env.seedAvailabilityCall(t)
	svc := newResultService(env)
	ctx := context.Background()

	if _, err := repo.CreateTask(ctx, env.db, &domain.Task{
		HouseholdID:          call.household.ID,
		IntentType:           domain.IntentSitter,
		Status:               domain.TaskIntentCreated,
		AwaitingParent:       true,
		AwaitingParentReason: ptr(domain.AwaitNeedTimeWindow),
	}); err != nil {
		t.Fatalf("seed awaiting task: %v", err)
	}

	s1 := time.Date(2026, time.September, 11, 10, 0, 0, 0, time.UTC)
	if err := svc.Process(ctx, voiceResult(call, "r1", VoiceSlot{Start: s1, End: s1.Add(30 * time.Minute)})); err != nil {
		t.Fatalf("process: %v", err)
	}

	// Options are stored but the prompt waits for the compile pass.
	if n, _ := repo.CountPendingOptions(ctx, env.db, call.task.ID); n != 1 {
		t.Fatalf("options = %d, want 1", n)
	}
	if got := env.reloadTask(t, call.task.ID); got.Status != domain.TaskCollecting {
		t.Fatalf("task = %s, want collecting", got.Status)
	}
	if len(env.sms.Sent) != 0 {
		t.Fatalf("no prompt may go out: %v", env.sms.Sent)
	}
	compiles := env.queue.named(JobCompileSitterOptions)
	if len(compiles) != 1 {
		t.Fatalf("compile jobs: %v", env.queue.Jobs)
	}
	wantAfter := svc.Now().UTC().Add(svc.CompileRetryDelay)
	if !compiles[0].RunAfter.Equal(wantAfter) {
		t.Fatalf("compile at %v, want %v", compiles[0].RunAfter, wantAfter)
	}
}

func TestVoiceResultService_Drops(t *testing.T) {
	t.Run("opted-out contact", func(t *testing.T) {
		env := newTestEnv(t)
		call := env.seedAvailabilityCall(t)
		if err := env.db.Model(&domain.Contact{}).Where("id = ?", call.clinic.ID).
			Update("voice_opted_out", true).Error; err != nil {
			t.Fatalf("opt out: %v", err)
		}
		svc := newResultService(env)

		s1 := time.Date(2026, time.September, 11, 10, 0, 0, 0, time.UTC)
		if err := svc.Process(context.Background(), voiceResult(call, "r1", VoiceSlot{Start: s1, End: s1.Add(30 * time.Minute)})); err != nil {
			t.Fatalf("process: %v", err)
		}
		if n, _ := repo.CountPendingOptions(context.Background(), env.db, call.task.ID); n != 0 {
			t.Fatalf("opted-out results must not create options")
		}
	})

	t.Run("terminal task", func(t *testing.T) {
		env := newTestEnv(t)
		call := env.seedAvailabilityCall(t)
		ctx := context.Background()
		if err := repo.FinishTask(ctx, env.db, call.task.ID, domain.TaskCancelled); err != nil {
			t.Fatalf("finish: %v", err)
		}
		svc := newResultService(env)

		s1 := time.Date(2026, time.September, 11, 10, 0, 0, 0, time.UTC)
		if err := svc.Process(ctx, voiceResult(call, "r1", VoiceSlot{Start: s1, End: s1.Add(30 * time.Minute)})); err != nil {
			t.Fatalf("process: %v", err)
		}
		if n, _ := repo.CountPendingOptions(ctx, env.db, call.task.ID); n != 0 {
			t.Fatalf("terminal tasks must not collect options")
		}
	})

	t.Run("unknown household", func(t *testing.T) {
		env := newTestEnv(t)
		svc := newResultService(env)
		in := InboundVoiceResult{
			Provider:          "twilio",
			ProviderMessageID: "r1",
			HouseholdID:       "no-such-household",
			TaskID:            "t",
			ContactID:         "c",
		}
		if err := svc.Process(context.Background(), in); !errors.Is(err, ErrUnroutableMessage) {
			t.Fatalf("err = %v, want ErrUnroutableMessage", err)
		}
	})
}
