// Package services implements the task orchestration engine: inbound SMS,
// email, and voice-result handling, the option selection protocol, the voice
// IVR turn controller, and the messaging gateway that executes outcomes.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into HTTP status codes should be performed at the handler layer.
package services

import "errors"

var (
	// ErrUnroutableMessage indicates an inbound event whose routing key
	// (assistant phone, family tag) matches no household. No state changed.
	ErrUnroutableMessage = errors.New("no household for routing key")

	// ErrVoiceJobNotFound indicates a voice webhook referenced a job that
	// does not exist.
	ErrVoiceJobNotFound = errors.New("voice job not found")

	// ErrHouseholdNotFound indicates an admin operation referenced an
	// unknown household.
	ErrHouseholdNotFound = errors.New("household not found")

	// ErrDuplicatePhone is returned when admin provisioning would reuse a
	// phone number that is already registered.
	ErrDuplicatePhone = errors.New("phone already registered")

	// ErrInvalidPhone is returned when a supplied phone number cannot be
	// normalized to E.164.
	ErrInvalidPhone = errors.New("invalid phone number")
)
