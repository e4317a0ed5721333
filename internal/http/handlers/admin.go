package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hearthkeep/hearth/internal/services"
)

// adminToken extracts the credential from an Authorization header. Both
// Bearer tokens and Basic auth (any username, token as password) are
// accepted so the endpoints work from scripts and browsers alike.
func adminToken(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if len(header) >= 6 && strings.EqualFold(header[:6], "basic ") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[6:]))
		if err != nil {
			return ""
		}
		if _, password, found := strings.Cut(string(decoded), ":"); found {
			return password
		}
	}
	return ""
}

// RequireAdmin guards the /admin group with the shared admin token.
func (h *Handler) RequireAdmin(c *gin.Context) {
	if h.Webhooks.AdminToken == "" {
		fail(c, http.StatusServiceUnavailable, ErrCodeNotConfigured, "admin not configured")
		return
	}
	token := adminToken(c.GetHeader("Authorization"))
	if token == "" || token != h.Webhooks.AdminToken {
		c.Header("WWW-Authenticate", `Basic realm="Hearth Admin"`)
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unauthorized")
		return
	}
	c.Next()
}

type createHouseholdRequest struct {
	AssistantPhoneE164 string `json:"assistantPhoneE164" binding:"required"`
	DisplayName        string `json:"displayName" binding:"required"`
	Timezone           string `json:"timezone"`
}

// CreateHousehold handles POST /admin/families.
func (h *Handler) CreateHousehold(c *gin.Context) {
	var req createHouseholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	hh, err := h.Admin.CreateHousehold(c.Request.Context(), req.AssistantPhoneE164, req.DisplayName, req.Timezone)
	switch {
	case errors.Is(err, services.ErrInvalidPhone):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid phone number")
		return
	case errors.Is(err, services.ErrDuplicatePhone):
		fail(c, http.StatusConflict, ErrCodeConflict, "assistant phone already registered")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not create family")
		return
	}

	ok(c, http.StatusOK, gin.H{"ok": true, "family": hh})
}

type addAuthorizedPhoneRequest struct {
	PhoneE164 string `json:"phoneE164" binding:"required"`
	Label     string `json:"label"`
	Role      string `json:"role"`
}

// AddAuthorizedPhone handles POST /admin/families/:id/authorized-phones.
func (h *Handler) AddAuthorizedPhone(c *gin.Context) {
	var req addAuthorizedPhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	p, err := h.Admin.AddAuthorizedPhone(c.Request.Context(), c.Param("id"), req.PhoneE164, req.Label, req.Role)
	switch {
	case errors.Is(err, services.ErrHouseholdNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "family not found")
		return
	case errors.Is(err, services.ErrInvalidPhone):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid phone number")
		return
	case errors.Is(err, services.ErrDuplicatePhone):
		fail(c, http.StatusConflict, ErrCodeConflict, "phone already registered")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not add phone")
		return
	}

	ok(c, http.StatusOK, gin.H{"ok": true, "authorizedPhone": p})
}

type addContactRequest struct {
	Name        string `json:"name" binding:"required"`
	Category    string `json:"category" binding:"required,oneof=sitter clinic therapy"`
	PhoneE164   string `json:"phoneE164"`
	Email       string `json:"email"`
	ChannelPref string `json:"channelPref" binding:"omitempty,oneof=sms email"`
}

// AddContact handles POST /admin/families/:id/contacts.
func (h *Handler) AddContact(c *gin.Context) {
	var req addContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if req.PhoneE164 == "" && req.Email == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "phone or email required")
		return
	}

	contact, err := h.Admin.AddContact(c.Request.Context(), c.Param("id"), services.NewContact{
		Name:        req.Name,
		Category:    req.Category,
		Phone:       req.PhoneE164,
		Email:       req.Email,
		ChannelPref: req.ChannelPref,
	})
	switch {
	case errors.Is(err, services.ErrHouseholdNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "family not found")
		return
	case errors.Is(err, services.ErrInvalidPhone):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid phone number")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not add contact")
		return
	}

	ok(c, http.StatusOK, gin.H{"ok": true, "contact": contact})
}
