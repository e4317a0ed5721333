package email

import (
	"context"
	"fmt"
	"sync"
)

// SentEmail is one message captured by the fake.
type SentEmail struct {
	Message
	ProviderMessageID string
}

// Fake records sends in memory.
type Fake struct {
	mu   sync.Mutex
	seq  int
	Sent []SentEmail
}

// NewFake returns an empty in-memory adapter.
func NewFake() *Fake { return &Fake{} }

// Send records the message and returns a synthetic provider ID.
func (f *Fake) Send(_ context.Context, msg Message) (SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("fake-email-%d", f.seq)
	f.Sent = append(f.Sent, SentEmail{Message: msg, ProviderMessageID: id})
	return SendResult{Provider: "fake", ProviderMessageID: id}, nil
}

// Reset clears the captured messages.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = nil
}
