// Package services – outcomes.
//
// Decision transactions never send messages or enqueue jobs themselves. They
// return an Outcome: the list of side effects the caller must execute after
// the transaction commits. This keeps every state mutation atomic while the
// sends stay outside the database transaction (a crash after commit can drop
// a notification but never leaves half-applied state).
package services

import "time"

// Action is one post-commit side effect. The closed set of variants below is
// everything a decision can ask for.
type Action interface {
	isAction()
}

// SendSMS delivers one text message through the SMS adapter and audit-logs it.
type SendSMS struct {
	To     string
	Body   string
	TaskID string // optional, ties the audit row to a task
}

// SendEmail delivers one email through the email adapter and audit-logs it.
// ReplyTo carries the household tag so replies route back.
type SendEmail struct {
	To      string
	Subject string
	Body    string
	ReplyTo string
	TaskID  string
}

// EnqueueJob schedules a durable delayed job.
type EnqueueJob struct {
	Name     string
	Payload  string
	RunAfter time.Time
}

// MarkOutreachSent flips a task's queued outreach rows to sent once the
// fan-out messages have actually gone out.
type MarkOutreachSent struct {
	TaskID string
}

func (SendSMS) isAction()          {}
func (SendEmail) isAction()        {}
func (EnqueueJob) isAction()       {}
func (MarkOutreachSent) isAction() {}

// Outcome is what a decision transaction hands back to the caller.
type Outcome struct {
	// Duplicate reports that the inbound event was a webhook retry and
	// nothing was applied.
	Duplicate bool

	// HouseholdID owns every action in the outcome.
	HouseholdID string

	Actions []Action
}

// NoOpOutcome is the empty outcome: nothing to do.
func NoOpOutcome() *Outcome { return &Outcome{} }

// DuplicateOutcome marks a deduplicated webhook retry.
func DuplicateOutcome() *Outcome { return &Outcome{Duplicate: true} }

func (o *Outcome) add(a Action) { o.Actions = append(o.Actions, a) }

func (o *Outcome) sms(to, body, taskID string) {
	o.add(SendSMS{To: to, Body: body, TaskID: taskID})
}

func (o *Outcome) email(to, subject, body, replyTo, taskID string) {
	o.add(SendEmail{To: to, Subject: subject, Body: body, ReplyTo: replyTo, TaskID: taskID})
}

func (o *Outcome) enqueue(name, payload string, runAfter time.Time) {
	o.add(EnqueueJob{Name: name, Payload: payload, RunAfter: runAfter})
}
