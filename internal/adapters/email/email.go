// Package email defines the outbound email boundary and its Resend-backed
// implementation.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SendResult identifies a delivered email for audit logging and dedup.
type SendResult struct {
	Provider          string
	ProviderMessageID string
}

// Message is one outbound email. ReplyTo is optional and carries the
// household routing tag.
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	ReplyTo string
}

// Adapter sends one email.
type Adapter interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

// ResendAdapter sends email through the Resend REST API.
type ResendAdapter struct {
	APIKey     string
	HTTPClient *http.Client
	BaseURL    string // overridable for tests
}

// NewResendAdapter constructs a ResendAdapter with a sane default timeout.
func NewResendAdapter(apiKey string) *ResendAdapter {
	return &ResendAdapter{
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		BaseURL:    "https://api.resend.com",
	}
}

type resendPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

// Send posts the message to Resend and returns the assigned message ID.
func (a *ResendAdapter) Send(ctx context.Context, msg Message) (SendResult, error) {
	payload, err := json.Marshal(resendPayload{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
	})
	if err != nil {
		return SendResult{}, err
	}

	endpoint := strings.TrimRight(a.BaseURL, "/") + "/emails"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := a.HTTPClient.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("resend send: %w", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return SendResult{}, fmt.Errorf("resend send failed (%d): %s", res.StatusCode, raw)
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.ID == "" {
		parsed.ID = "unknown"
	}
	return SendResult{Provider: "resend", ProviderMessageID: parsed.ID}, nil
}
