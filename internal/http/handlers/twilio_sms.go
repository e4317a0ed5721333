package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearthkeep/hearth/internal/services"
	"github.com/hearthkeep/hearth/internal/sysutil"
)

// InboundSMS handles POST /webhooks/twilio/sms.
//
// Twilio posts application/x-www-form-urlencoded with MessageSid, From, To,
// and Body. Replies go out through the gateway, not the webhook response, so
// a 200 with an ok envelope is all Twilio needs. Texts to an assistant
// number no household owns are acknowledged and dropped.
func (h *Handler) InboundSMS(c *gin.Context) {
	providerMessageID := sysutil.FirstNonEmpty(c.PostForm("MessageSid"), c.PostForm("SmsSid"), "unknown")

	from := strings.TrimSpace(c.PostForm("From"))
	to := strings.TrimSpace(c.PostForm("To"))
	body := strings.TrimSpace(c.PostForm("Body"))

	if from == "" || to == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing From/To")
		return
	}

	err := h.SMS.Process(c.Request.Context(), services.InboundSMS{
		Provider:          "twilio",
		ProviderMessageID: providerMessageID,
		From:              from,
		To:                to,
		Text:              body,
		OccurredAt:        time.Now().UTC(),
	})
	if err != nil && !errors.Is(err, services.ErrUnroutableMessage) {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "inbound sms failed")
		return
	}

	ok(c, http.StatusOK, gin.H{"ok": true})
}
