// Package voice defines the outbound call boundary and its Twilio-backed
// dialer. Call control after pickup happens over the TwiML webhooks the HTTP
// layer exposes; this package only places calls.
package voice

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

// Call is a request to place one outbound call. AnswerURL is fetched by the
// provider when the callee picks up and must return a call-control document;
// StatusCallbackURL receives lifecycle events and may be empty.
type Call struct {
	To                string
	From              string
	AnswerURL         string
	StatusCallbackURL string
}

// StartResult identifies a placed call.
type StartResult struct {
	Provider       string
	ProviderCallID string
}

// Dialer places one outbound call.
type Dialer interface {
	StartCall(ctx context.Context, call Call) (StartResult, error)
}

// TwilioDialer places calls through the Twilio REST API.
type TwilioDialer struct {
	AccountSID string
	AuthToken  string
	HTTPClient *http.Client
	BaseURL    string // overridable for tests
}

// NewTwilioDialer constructs a TwilioDialer with a sane default timeout.
func NewTwilioDialer(accountSID, authToken string) *TwilioDialer {
	return &TwilioDialer{
		AccountSID: accountSID,
		AuthToken:  authToken,
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		BaseURL:    "https://api.twilio.com",
	}
}

// StartCall places the call and returns the assigned call SID.
func (d *TwilioDialer) StartCall(ctx context.Context, call Call) (StartResult, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json",
		strings.TrimRight(d.BaseURL, "/"), url.PathEscape(d.AccountSID))

	form := url.Values{}
	form.Set("From", call.From)
	form.Set("To", call.To)
	form.Set("Url", call.AnswerURL)
	form.Set("Method", "POST")
	if call.StatusCallbackURL != "" {
		form.Set("StatusCallback", call.StatusCallbackURL)
		form.Set("StatusCallbackMethod", "POST")
		form.Set("StatusCallbackEvent", "initiated ringing answered completed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return StartResult{}, err
	}
	req.SetBasicAuth(d.AccountSID, d.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := d.HTTPClient.Do(req)
	if err != nil {
		return StartResult{}, fmt.Errorf("twilio call create: %w", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return StartResult{}, fmt.Errorf("twilio call create failed (%d): %s", res.StatusCode, raw)
	}

	var parsed struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.SID == "" {
		parsed.SID = "unknown"
	}
	return StartResult{Provider: "twilio", ProviderCallID: parsed.SID}, nil
}
