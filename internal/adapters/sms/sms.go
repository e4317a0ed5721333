// Package sms defines the outbound SMS boundary and its Twilio-backed
// implementation. The orchestration core only sees the Adapter interface.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SendResult identifies a delivered message for audit logging and dedup.
type SendResult struct {
	Provider          string
	ProviderMessageID string
}

// Adapter sends one SMS. Implementations may fail with a transport or
// provider error; the caller decides retry policy.
type Adapter interface {
	Send(ctx context.Context, from, to, body string) (SendResult, error)
}

// TwilioAdapter sends SMS through the Twilio REST API. No SDK; a single
// form-encoded POST with basic auth keeps the dependency surface small.
type TwilioAdapter struct {
	AccountSID string
	AuthToken  string
	HTTPClient *http.Client
	BaseURL    string // overridable for tests
}

// NewTwilioAdapter constructs a TwilioAdapter with a sane default timeout.
func NewTwilioAdapter(accountSID, authToken string) *TwilioAdapter {
	return &TwilioAdapter{
		AccountSID: accountSID,
		AuthToken:  authToken,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		BaseURL:    "https://api.twilio.com",
	}
}

// Send posts the message to Twilio and returns the assigned message SID.
func (a *TwilioAdapter) Send(ctx context.Context, from, to, body string) (SendResult, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(a.BaseURL, "/"), url.PathEscape(a.AccountSID))

	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SendResult{}, err
	}
	req.SetBasicAuth(a.AccountSID, a.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := a.HTTPClient.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("twilio send: %w", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return SendResult{}, fmt.Errorf("twilio send failed (%d): %s", res.StatusCode, raw)
	}

	var parsed struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.SID == "" {
		parsed.SID = "unknown"
	}
	return SendResult{Provider: "twilio", ProviderMessageID: parsed.SID}, nil
}
