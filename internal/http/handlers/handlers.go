package handlers

import (
	"github.com/hearthkeep/hearth/internal/config"
	"github.com/hearthkeep/hearth/internal/services"
)

// Handler bundles the webhook and admin endpoints with their services.
type Handler struct {
	SMS         *services.SMSService
	Email       *services.EmailService
	VoiceResult *services.VoiceResultService
	Voice       *services.VoiceController
	Admin       *services.AdminService

	Webhooks config.WebhooksConfig
}

// New constructs the Handler used by the router.
func New(
	sms *services.SMSService,
	email *services.EmailService,
	voiceResult *services.VoiceResultService,
	voice *services.VoiceController,
	admin *services.AdminService,
	webhooks config.WebhooksConfig,
) *Handler {
	return &Handler{
		SMS:         sms,
		Email:       email,
		VoiceResult: voiceResult,
		Voice:       voice,
		Admin:       admin,
		Webhooks:    webhooks,
	}
}
