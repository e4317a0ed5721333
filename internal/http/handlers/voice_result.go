package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hearthkeep/hearth/internal/services"
)

// voiceResultPayload is the structured availability-call outcome posted by
// an external voice pipeline.
type voiceResultPayload struct {
	ID           string  `json:"id" binding:"required"`
	Provider     string  `json:"provider"`
	FamilyID     string  `json:"familyId" binding:"required"`
	TaskID       string  `json:"taskId" binding:"required"`
	ContactID    string  `json:"contactId" binding:"required"`
	Transcript   string  `json:"transcript"`
	Note         string  `json:"note"`
	OfferedSlots []struct {
		Start time.Time `json:"start" binding:"required"`
		End   time.Time `json:"end" binding:"required"`
	} `json:"offeredSlots"`
}

var voiceResultProviders = map[string]bool{
	"twilio": true, "grok": true, "proxy": true, "fake": true,
}

// InboundVoiceResult handles POST /webhooks/voice/result.
func (h *Handler) InboundVoiceResult(c *gin.Context) {
	if h.Webhooks.InboundVoiceToken == "" {
		fail(c, http.StatusServiceUnavailable, ErrCodeNotConfigured, "inbound voice not configured")
		return
	}
	if c.GetHeader("X-Inbound-Token") != h.Webhooks.InboundVoiceToken {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unauthorized")
		return
	}

	var p voiceResultPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "invalid payload")
		return
	}
	if p.Provider == "" {
		p.Provider = "proxy"
	}
	if !voiceResultProviders[p.Provider] {
		fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "invalid payload")
		return
	}
	for _, id := range []string{p.FamilyID, p.TaskID, p.ContactID} {
		if _, err := uuid.Parse(id); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "invalid payload")
			return
		}
	}

	slots := make([]services.VoiceSlot, 0, len(p.OfferedSlots))
	for _, s := range p.OfferedSlots {
		if !s.End.After(s.Start) {
			fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "invalid payload")
			return
		}
		slots = append(slots, services.VoiceSlot{Start: s.Start, End: s.End})
	}

	err := h.VoiceResult.Process(c.Request.Context(), services.InboundVoiceResult{
		Provider:          p.Provider,
		ProviderMessageID: p.ID,
		HouseholdID:       p.FamilyID,
		TaskID:            p.TaskID,
		ContactID:         p.ContactID,
		Transcript:        p.Transcript,
		Note:              p.Note,
		OfferedSlots:      slots,
	})
	if errors.Is(err, services.ErrUnroutableMessage) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "family not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "voice result failed")
		return
	}

	ok(c, http.StatusOK, gin.H{"ok": true})
}
