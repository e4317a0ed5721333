package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/adapters/email"
	"github.com/hearthkeep/hearth/internal/adapters/sms"
	"github.com/hearthkeep/hearth/internal/domain"
	"github.com/hearthkeep/hearth/internal/repo"
)

const (
	testAssistantPhone = "+18015550100"
	testRequesterPhone = "+18015550111"
)

// queuedCall is one job captured by the in-memory enqueuer.
type queuedCall struct {
	Name     string
	Payload  string
	RunAfter time.Time
}

type fakeQueue struct {
	Jobs []queuedCall
}

func (q *fakeQueue) Enqueue(_ context.Context, name, payload string, runAfter time.Time) error {
	q.Jobs = append(q.Jobs, queuedCall{Name: name, Payload: payload, RunAfter: runAfter})
	return nil
}

func (q *fakeQueue) named(name string) []queuedCall {
	var out []queuedCall
	for _, j := range q.Jobs {
		if j.Name == name {
			out = append(out, j)
		}
	}
	return out
}

// testEnv bundles a temp-file database with fake adapters and the gateway.
type testEnv struct {
	db    *gorm.DB
	sms   *sms.Fake
	email *email.Fake
	queue *fakeQueue
	gw    *Gateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	smsFake := sms.NewFake()
	emailFake := email.NewFake()
	queue := &fakeQueue{}
	gw := &Gateway{
		DB:           db,
		SMS:          smsFake,
		Email:        emailFake,
		Jobs:         queue,
		Log:          zerolog.Nop(),
		EmailFrom:    "assistant@hearth.test",
		EmailReplyTo: "reply@hearth.test",
	}
	return &testEnv{db: db, sms: smsFake, email: emailFake, queue: queue, gw: gw}
}

func (e *testEnv) seedHousehold(t *testing.T) *domain.Household {
	t.Helper()
	ctx := context.Background()
	h, err := repo.CreateHousehold(ctx, e.db, testAssistantPhone, "Test Family", "UTC")
	if err != nil {
		t.Fatalf("create household: %v", err)
	}
	if _, err := repo.CreateAuthorizedPhone(ctx, e.db, h.ID, testRequesterPhone, "Parent", domain.RolePrimary); err != nil {
		t.Fatalf("create authorized phone: %v", err)
	}
	return h
}

func (e *testEnv) seedSitter(t *testing.T, h *domain.Household, name, phone string) *domain.Contact {
	t.Helper()
	c, err := repo.CreateContact(context.Background(), e.db, &domain.Contact{
		HouseholdID: h.ID,
		Name:        name,
		Category:    domain.IntentSitter,
		Phone:       &phone,
		ChannelPref: domain.ChannelSMS,
	})
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	return c
}

// seedCollectingTask creates a sitter task mid-collection with outreach
// already sent to the given contacts.
func (e *testEnv) seedCollectingTask(t *testing.T, h *domain.Household, start, end time.Time, contacts ...*domain.Contact) *domain.Task {
	t.Helper()
	ctx := context.Background()
	meta, err := domain.EncodeMetadata(domain.SitterMetadata{Initiator: testRequesterPhone})
	if err != nil {
		t.Fatalf("encode metadata: %v", err)
	}
	task, err := repo.CreateTask(ctx, e.db, &domain.Task{
		HouseholdID:    h.ID,
		IntentType:     domain.IntentSitter,
		Status:         domain.TaskCollecting,
		RequestedStart: &start,
		RequestedEnd:   &end,
		Metadata:       meta,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	for _, c := range contacts {
		o, _, err := repo.EnsureOutreach(ctx, e.db, task.ID, c.ID, domain.ChannelSMS)
		if err != nil {
			t.Fatalf("ensure outreach: %v", err)
		}
		if err := repo.MarkOutreachSent(ctx, e.db, o.ID); err != nil {
			t.Fatalf("mark outreach sent: %v", err)
		}
	}
	return task
}

func (e *testEnv) reloadTask(t *testing.T, id string) *domain.Task {
	t.Helper()
	task, err := repo.GetTaskByID(context.Background(), e.db, id)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	return task
}

// smsBodiesTo filters the fake adapter's captured sends by recipient.
func (e *testEnv) smsBodiesTo(to string) []string {
	var out []string
	for _, m := range e.sms.Sent {
		if m.To == to {
			out = append(out, m.Body)
		}
	}
	return out
}

// testWindow is a fixed Friday-evening request window.
func testWindow() (time.Time, time.Time) {
	start := time.Date(2026, time.September, 4, 18, 0, 0, 0, time.UTC)
	return start, start.Add(4 * time.Hour)
}
