// Package domain defines the persistence models for households, contacts,
// scheduling tasks, and the voice/message records that surround them. These
// types are mapped with GORM and form the core data layer of the
// orchestration engine.
package domain

import (
	"time"
)

// Task lifecycle statuses. intent_created through confirmed is the forward
// path; cancelled and expired are reachable from any non-terminal status.
const (
	TaskIntentCreated = "intent_created"
	TaskCollecting    = "collecting"
	TaskOptionsReady  = "options_ready"
	TaskBooking       = "booking"
	TaskConfirmed     = "confirmed"
	TaskCancelled     = "cancelled"
	TaskExpired       = "expired"
)

// TerminalTaskStatuses are the statuses that end a task's life. Tasks in any
// other status count against the per-household active-task cap.
var TerminalTaskStatuses = []string{TaskConfirmed, TaskCancelled, TaskExpired}

// Awaiting-parent reason codes. At most one task per household may hold the
// awaiting_parent flag; the reason gates how the next requester reply is
// interpreted.
const (
	AwaitNeedTimeWindow = "need_time_window"
	AwaitNeedContacts   = "need_contacts"
	AwaitChooseOption   = "choose_option"
)

// Intent types. The task topology is fixed: sitter tasks collect yes/no over
// SMS/email, clinic and therapy tasks collect offered slots over voice and
// confirm by a booking call.
const (
	IntentSitter  = "sitter"
	IntentClinic  = "clinic"
	IntentTherapy = "therapy"
)

// Message channels and directions for the audit log.
const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
	ChannelVoice = "voice"

	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Classified contact responses.
const (
	ResponseYes     = "yes"
	ResponseNo      = "no"
	ResponseUnknown = "unknown"
)

// Option statuses. A rejected option may transition back to pending only when
// a booking call fails and releases the slot to the requester again.
const (
	OptionPending  = "pending"
	OptionSelected = "selected"
	OptionRejected = "rejected"
)

// Outreach statuses.
const (
	OutreachQueued = "queued"
	OutreachSent   = "sent"
	OutreachFailed = "failed"
)

// Voice job kinds and statuses.
const (
	VoiceKindAvailability = "availability"
	VoiceKindBooking      = "booking"

	VoiceQueued     = "queued"
	VoiceDialing    = "dialing"
	VoiceInProgress = "in_progress"
	VoiceCompleted  = "completed"
	VoiceFailed     = "failed"
	VoiceCancelled  = "cancelled"
)

// Authorized phone roles.
const (
	RolePrimary   = "primary"
	RoleCaregiver = "caregiver"
)

// Household is the tenant unit: one assistant phone number, one timezone, and
// the contacts/tasks/authorized phones it owns. Households are created by an
// operator and never deleted in-flow.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - AssistantPhone: the externally visible E.164 identity; unique, used to
//     route inbound SMS to the owning household.
//   - Timezone: IANA zone name used for all time parsing and formatting.
type Household struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	AssistantPhone string    `json:"assistant_phone" gorm:"type:varchar(32);not null;uniqueIndex:ux_household_assistant_phone"`
	DisplayName    string    `json:"display_name"    gorm:"type:varchar(255);not null"`
	Timezone       string    `json:"timezone"        gorm:"type:varchar(64);not null;default:'UTC'"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for Household.
func (Household) TableName() string { return "households" }

// AuthorizedPhone is a phone number entitled to issue commands and receive
// prompts for a household. Inbound traffic from one of these numbers is
// requester traffic; anything else on the same channel is contact traffic.
type AuthorizedPhone struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	HouseholdID string    `json:"household_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_auth_phone,priority:1"`
	Phone       string    `json:"phone"        gorm:"type:varchar(32);not null;uniqueIndex:ux_auth_phone,priority:2"`
	Label       string    `json:"label"        gorm:"type:varchar(64)"`
	Role        string    `json:"role"         gorm:"type:varchar(16);not null;default:'caregiver';check:role IN ('primary','caregiver')"`
	CreatedAt   time.Time `json:"created_at"`

	Household Household `json:"-" gorm:"foreignKey:HouseholdID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for AuthorizedPhone.
func (AuthorizedPhone) TableName() string { return "authorized_phones" }

// Contact is a person a task can reach out to (sitter, clinic, therapist),
// with per-channel opt-out flags honored before any task logic runs. Contacts
// are created by an operator or implicitly from a requester's reply.
type Contact struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	HouseholdID   string    `json:"household_id"   gorm:"type:char(36);not null;index:idx_household_contacts"`
	Name          string    `json:"name"           gorm:"type:varchar(255);not null"`
	Category      string    `json:"category"       gorm:"type:varchar(32);not null"`
	Phone         *string   `json:"phone,omitempty"  gorm:"type:varchar(32)"`
	Email         *string   `json:"email,omitempty"  gorm:"type:varchar(255)"`
	ChannelPref   string    `json:"channel_pref"   gorm:"type:varchar(16);not null;default:'sms';check:channel_pref IN ('sms','email')"`
	SmsOptedOut   bool      `json:"sms_opted_out"   gorm:"not null;default:false"`
	EmailOptedOut bool      `json:"email_opted_out" gorm:"not null;default:false"`
	VoiceOptedOut bool      `json:"voice_opted_out" gorm:"not null;default:false"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Household Household `json:"-" gorm:"foreignKey:HouseholdID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Contact.
func (Contact) TableName() string { return "contacts" }

// Task is one scheduling request moving through collection, selection, and
// confirmation. The awaiting_parent flag marks that this task currently owns
// the single permitted prompt slot toward the requester.
//
// Invariants (enforced by the services layer inside the household lock):
//   - at most one task per household has AwaitingParent set;
//   - at most five tasks per household are in a non-terminal status.
type Task struct {
	ID                   string     `json:"id"             gorm:"type:char(36);primaryKey"`
	HouseholdID          string     `json:"household_id"   gorm:"type:char(36);not null;index:idx_household_tasks"`
	IntentType           string     `json:"intent_type"    gorm:"type:varchar(16);not null;check:intent_type IN ('sitter','clinic','therapy')"`
	Status               string     `json:"status"         gorm:"type:varchar(16);not null;default:'intent_created'"`
	RequestedStart       *time.Time `json:"requested_start,omitempty"`
	RequestedEnd         *time.Time `json:"requested_end,omitempty"`
	AwaitingParent       bool       `json:"awaiting_parent" gorm:"not null;default:false;index"`
	AwaitingParentReason *string    `json:"awaiting_parent_reason,omitempty" gorm:"type:varchar(32)"`
	Metadata             string     `json:"-"              gorm:"type:text;not null;default:'{}'"`
	ParsedAt             *time.Time `json:"parsed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"     gorm:"index"`
	UpdatedAt            time.Time  `json:"updated_at"`

	Household Household `json:"-" gorm:"foreignKey:HouseholdID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Task.
func (Task) TableName() string { return "tasks" }

// Terminal reports whether the task has reached a final status.
func (t *Task) Terminal() bool {
	switch t.Status {
	case TaskConfirmed, TaskCancelled, TaskExpired:
		return true
	}
	return false
}

// TaskOutreach records one attempt to ask one contact, over one channel,
// about one task. The (task, contact, channel) triple is unique so re-running
// fan-out is idempotent.
type TaskOutreach struct {
	ID        string     `json:"id"         gorm:"type:char(36);primaryKey"`
	TaskID    string     `json:"task_id"    gorm:"type:char(36);not null;index;uniqueIndex:ux_outreach,priority:1"`
	ContactID string     `json:"contact_id" gorm:"type:char(36);not null;uniqueIndex:ux_outreach,priority:2"`
	Channel   string     `json:"channel"    gorm:"type:varchar(16);not null;uniqueIndex:ux_outreach,priority:3"`
	Status    string     `json:"status"     gorm:"type:varchar(16);not null;default:'queued'"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	Task    Task    `json:"-" gorm:"foreignKey:TaskID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Contact Contact `json:"-" gorm:"foreignKey:ContactID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for TaskOutreach.
func (TaskOutreach) TableName() string { return "task_outreach" }

// TaskContactResponse records the classified reply of one contact to one
// task. Presence of a row means the contact is no longer pending; the
// (task, contact) pair is unique so replayed replies collapse to one row.
type TaskContactResponse struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	TaskID    string    `json:"task_id"    gorm:"type:char(36);not null;index;uniqueIndex:ux_response,priority:1"`
	ContactID string    `json:"contact_id" gorm:"type:char(36);not null;uniqueIndex:ux_response,priority:2"`
	Response  string    `json:"response"   gorm:"type:varchar(16);not null;check:response IN ('yes','no','unknown')"`
	CreatedAt time.Time `json:"created_at"`

	Task    Task    `json:"-" gorm:"foreignKey:TaskID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Contact Contact `json:"-" gorm:"foreignKey:ContactID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for TaskContactResponse.
func (TaskContactResponse) TableName() string { return "task_contact_responses" }

// TaskOption is a candidate slot surfaced by a contact's acceptance or a
// voice transcript. Rank is the 1-based presentation order; a requester's
// numeric reply k selects the option with rank k among pending options.
type TaskOption struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	TaskID    string    `json:"task_id"    gorm:"type:char(36);not null;index:idx_task_options"`
	ContactID string    `json:"contact_id" gorm:"type:char(36);not null"`
	SlotStart time.Time `json:"slot_start" gorm:"not null"`
	SlotEnd   time.Time `json:"slot_end"   gorm:"not null"`
	Status    string    `json:"status"     gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','selected','rejected')"`
	Rank      int       `json:"rank"       gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`

	Task    Task    `json:"-" gorm:"foreignKey:TaskID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Contact Contact `json:"-" gorm:"foreignKey:ContactID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for TaskOption.
func (TaskOption) TableName() string { return "task_options" }

// VoiceJob is one outbound phone call attempt and its IVR turn history.
// Availability calls ask a clinic for open times; booking calls confirm a
// previously selected option. The turn counter lives in the webhook query
// string, but everything needed to resume a call is re-derivable from
// this row alone.
type VoiceJob struct {
	ID             string    `json:"id"           gorm:"type:char(36);primaryKey"`
	HouseholdID    string    `json:"household_id" gorm:"type:char(36);not null;index"`
	TaskID         string    `json:"task_id"      gorm:"type:char(36);not null;index"`
	ContactID      string    `json:"contact_id"   gorm:"type:char(36);not null"`
	OptionID       *string   `json:"option_id,omitempty" gorm:"type:char(36)"`
	Kind           string    `json:"kind"         gorm:"type:varchar(16);not null;check:kind IN ('availability','booking')"`
	Status         string    `json:"status"       gorm:"type:varchar(16);not null;default:'queued'"`
	Attempt        int       `json:"attempt"      gorm:"not null;default:0"`
	Provider       string    `json:"provider"     gorm:"type:varchar(32)"`
	ProviderCallID *string   `json:"provider_call_id,omitempty" gorm:"type:varchar(64)"`
	LastTranscript *string   `json:"last_transcript,omitempty"  gorm:"type:text"`
	LastError      *string   `json:"last_error,omitempty"       gorm:"type:text"`
	ResultJSON     *string   `json:"result,omitempty"           gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"   gorm:"index"`

	Household Household `json:"-" gorm:"foreignKey:HouseholdID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Task      Task      `json:"-" gorm:"foreignKey:TaskID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Contact   Contact   `json:"-" gorm:"foreignKey:ContactID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for VoiceJob.
func (VoiceJob) TableName() string { return "voice_jobs" }

// Terminal reports whether the voice job has reached a final status. A late
// provider status callback must never move a terminal job.
func (v *VoiceJob) Terminal() bool {
	switch v.Status {
	case VoiceCompleted, VoiceFailed, VoiceCancelled:
		return true
	}
	return false
}

// MessageEvent is the append-only audit log of every inbound and outbound
// message across channels. The (provider, provider_message_id) pair is unique
// and doubles as the inbound dedup key: an insert that hits the constraint is
// a webhook retry and produces a no-op.
type MessageEvent struct {
	ID                string    `json:"id"           gorm:"type:char(36);primaryKey"`
	HouseholdID       string    `json:"household_id" gorm:"type:char(36);not null;index"`
	TaskID            *string   `json:"task_id,omitempty" gorm:"type:char(36);index"`
	Direction         string    `json:"direction"    gorm:"type:varchar(16);not null;check:direction IN ('inbound','outbound')"`
	Channel           string    `json:"channel"      gorm:"type:varchar(16);not null;check:channel IN ('sms','email','voice')"`
	FromAddr          string    `json:"from_addr"    gorm:"type:varchar(255);not null"`
	ToAddr            string    `json:"to_addr"      gorm:"type:varchar(255);not null"`
	Body              string    `json:"body"         gorm:"type:text;not null"`
	Provider          string    `json:"provider"     gorm:"type:varchar(32);not null;uniqueIndex:ux_provider_message,priority:1"`
	ProviderMessageID string    `json:"provider_message_id" gorm:"type:varchar(128);not null;uniqueIndex:ux_provider_message,priority:2"`
	OccurredAt        time.Time `json:"occurred_at"  gorm:"not null;index"`
	CreatedAt         time.Time `json:"created_at"`

	Household Household `json:"-" gorm:"foreignKey:HouseholdID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for MessageEvent.
func (MessageEvent) TableName() string { return "message_events" }
