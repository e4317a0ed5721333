package voice

import (
	"context"
	"fmt"
	"sync"
)

// Fake records placed calls in memory.
type Fake struct {
	mu    sync.Mutex
	seq   int
	Calls []Call

	// Err, when set, makes every StartCall fail with it.
	Err error
}

// NewFake returns an empty in-memory dialer.
func NewFake() *Fake { return &Fake{} }

// StartCall records the call and returns a synthetic call SID.
func (f *Fake) StartCall(_ context.Context, call Call) (StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return StartResult{}, f.Err
	}
	f.seq++
	f.Calls = append(f.Calls, call)
	return StartResult{Provider: "fake", ProviderCallID: fmt.Sprintf("FAKE_CALL_%d", f.seq)}, nil
}

// Reset clears the captured calls.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = nil
}
