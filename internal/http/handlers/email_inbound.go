package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearthkeep/hearth/internal/services"
)

// angleAddr extracts the address from forms like `Name <a@b.c>`.
var angleAddr = regexp.MustCompile(`<([^>]+)>`)

func extractEmailAddress(v string) string {
	v = strings.TrimSpace(v)
	if m := angleAddr.FindStringSubmatch(v); m != nil {
		v = m[1]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// emailPayload accepts the two shapes inbound email providers post: fields
// at the top level or nested under data, with a few naming variants.
type emailPayload struct {
	ID        string          `json:"id"`
	MessageID string          `json:"message_id"`
	From      json.RawMessage `json:"from"`
	To        json.RawMessage `json:"to"`
	Text      string          `json:"text"`
	Data      *struct {
		ID        string          `json:"id"`
		MessageID string          `json:"message_id"`
		From      json.RawMessage `json:"from"`
		Sender    json.RawMessage `json:"sender"`
		To        json.RawMessage `json:"to"`
		Recipient json.RawMessage `json:"recipient"`
		Text      string          `json:"text"`
		PlainText string          `json:"plain_text"`
		Content   *struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// firstString decodes a JSON value that is either a string or an array of
// strings and returns the first entry.
func firstString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 {
		return arr[0]
	}
	return ""
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// InboundEmail handles POST /webhooks/email/inbound and
// POST /webhooks/resend/inbound. The recipient's plus tag routes the message
// to its household; X-Inbound-Token authenticates the forwarding service.
func (h *Handler) InboundEmail(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Webhooks.InboundEmailToken == "" {
			fail(c, http.StatusServiceUnavailable, ErrCodeNotConfigured, "inbound email not configured")
			return
		}
		if c.GetHeader("X-Inbound-Token") != h.Webhooks.InboundEmailToken {
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unauthorized")
			return
		}

		var p emailPayload
		if err := c.ShouldBindJSON(&p); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "invalid payload")
			return
		}

		providerMessageID := firstOf(p.ID, p.MessageID)
		from := firstString(p.From)
		to := firstString(p.To)
		text := p.Text
		if p.Data != nil {
			providerMessageID = firstOf(providerMessageID, p.Data.ID, p.Data.MessageID)
			from = firstOf(from, firstString(p.Data.From), firstString(p.Data.Sender))
			to = firstOf(to, firstString(p.Data.To), firstString(p.Data.Recipient))
			text = firstOf(text, p.Data.Text, p.Data.PlainText)
			if p.Data.Content != nil {
				text = firstOf(text, p.Data.Content.Text)
			}
		}
		if providerMessageID == "" {
			providerMessageID = "unknown"
		}

		fromEmail := extractEmailAddress(from)
		toEmail := extractEmailAddress(to)
		if len(fromEmail) < 3 || len(toEmail) < 3 || strings.TrimSpace(text) == "" {
			fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "invalid payload")
			return
		}

		householdID, okTag := services.HouseholdIDFromAddress(toEmail)
		if !okTag {
			fail(c, http.StatusBadRequest, ErrCodeMissingRouting, "missing family routing")
			return
		}

		err := h.Email.Process(c.Request.Context(), services.InboundEmail{
			Provider:          provider,
			ProviderMessageID: providerMessageID,
			HouseholdID:       householdID,
			From:              fromEmail,
			To:                toEmail,
			Text:              text,
			OccurredAt:        time.Now().UTC(),
		})
		if err != nil && !errors.Is(err, services.ErrUnroutableMessage) {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "inbound email failed")
			return
		}

		ok(c, http.StatusOK, gin.H{"ok": true})
	}
}
