package sms

import (
	"context"
	"fmt"
	"sync"
)

// SentSMS is one message captured by the fake.
type SentSMS struct {
	From              string
	To                string
	Body              string
	ProviderMessageID string
}

// Fake records sends in memory. Used in tests and when no Twilio
// credentials are configured.
type Fake struct {
	mu   sync.Mutex
	seq  int
	Sent []SentSMS
}

// NewFake returns an empty in-memory adapter.
func NewFake() *Fake { return &Fake{} }

// Send records the message and returns a synthetic provider ID.
func (f *Fake) Send(_ context.Context, from, to, body string) (SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("fake-sms-%d", f.seq)
	f.Sent = append(f.Sent, SentSMS{From: from, To: to, Body: body, ProviderMessageID: id})
	return SendResult{Provider: "fake", ProviderMessageID: id}, nil
}

// Reset clears the captured messages.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = nil
}
