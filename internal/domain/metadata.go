// Package domain – task metadata.
//
// Task metadata is a closed set of per-intent payload variants rather than a
// free-form blob: it is decoded once at the state-machine boundary and the
// rest of the engine works with typed values.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownMetadata is returned when a stored metadata payload carries a
// type tag outside the closed set.
var ErrUnknownMetadata = errors.New("unknown task metadata type")

// TaskMetadata is the decoded intent-specific payload stored on a task.
// Exactly two variants exist: SitterMetadata for sitter tasks and
// ClinicMetadata for clinic/therapy tasks.
type TaskMetadata interface {
	// InitiatorPhone returns the requester phone that created the task and
	// receives its prompts.
	InitiatorPhone() string

	metadataTag() string
}

// SitterMetadata is the payload of a sitter task.
type SitterMetadata struct {
	Initiator    string `json:"initiatorPhone"`
	OriginalText string `json:"originalText,omitempty"`
}

// InitiatorPhone implements TaskMetadata.
func (m SitterMetadata) InitiatorPhone() string { return m.Initiator }

func (SitterMetadata) metadataTag() string { return "sitter" }

// ClinicMetadata is the payload of a clinic or therapy task. It links the
// clinic contact the booking call is placed to.
type ClinicMetadata struct {
	Initiator       string `json:"initiatorPhone"`
	ClinicContactID string `json:"clinicContactId,omitempty"`
	OriginalText    string `json:"originalText,omitempty"`
}

// InitiatorPhone implements TaskMetadata.
func (m ClinicMetadata) InitiatorPhone() string { return m.Initiator }

func (ClinicMetadata) metadataTag() string { return "clinic" }

// metadataEnvelope is the stored JSON shape: a type tag plus the flattened
// variant payload.
type metadataEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeMetadata serializes a metadata variant for storage on a task row.
func EncodeMetadata(m TaskMetadata) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	env, err := json.Marshal(metadataEnvelope{Type: m.metadataTag(), Data: data})
	if err != nil {
		return "", err
	}
	return string(env), nil
}

// DecodeMetadata parses a stored metadata payload back into its variant.
// Empty or "{}" payloads decode to nil without error.
func DecodeMetadata(raw string) (TaskMetadata, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var env metadataEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode task metadata: %w", err)
	}
	switch env.Type {
	case "sitter":
		var m SitterMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("decode sitter metadata: %w", err)
		}
		return m, nil
	case "clinic":
		var m ClinicMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("decode clinic metadata: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetadata, env.Type)
	}
}

// DecodedMetadata returns the task's metadata variant, or nil when the task
// has none or it cannot be decoded. Use DecodeMetadata directly when the
// error matters.
func (t *Task) DecodedMetadata() TaskMetadata {
	m, err := DecodeMetadata(t.Metadata)
	if err != nil {
		return nil
	}
	return m
}
