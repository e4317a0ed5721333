package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/domain"
	"github.com/hearthkeep/hearth/internal/parse"
	"github.com/hearthkeep/hearth/internal/repo"
)

// AdminService provisions households, authorized phones, and contacts. All
// phone inputs are normalized to E.164 before they are stored so that the
// webhook routing lookups are exact string matches.
type AdminService struct {
	DB *gorm.DB

	// DefaultRegion is the country used when normalizing bare phone numbers.
	DefaultRegion string
	// DefaultTimezone is applied to new households that do not name one.
	DefaultTimezone string
}

// NewAdminService constructs an AdminService.
func NewAdminService(db *gorm.DB, defaultRegion, defaultTimezone string) *AdminService {
	if defaultRegion == "" {
		defaultRegion = "US"
	}
	if defaultTimezone == "" {
		defaultTimezone = "UTC"
	}
	return &AdminService{DB: db, DefaultRegion: defaultRegion, DefaultTimezone: defaultTimezone}
}

// CreateHousehold registers a household behind an assistant phone number.
func (s *AdminService) CreateHousehold(ctx context.Context, assistantPhone, displayName, timezone string) (*domain.Household, error) {
	phone, err := parse.NormalizePhone(assistantPhone, s.DefaultRegion)
	if err != nil {
		return nil, ErrInvalidPhone
	}
	if timezone == "" {
		timezone = s.DefaultTimezone
	}
	h, err := repo.CreateHousehold(ctx, s.DB, phone, strings.TrimSpace(displayName), timezone)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrDuplicatePhone
	}
	return h, err
}

// AddAuthorizedPhone entitles a phone to issue requester commands for the
// household.
func (s *AdminService) AddAuthorizedPhone(ctx context.Context, householdID, phoneInput, label, role string) (*domain.AuthorizedPhone, error) {
	if _, err := repo.GetHousehold(ctx, s.DB, householdID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrHouseholdNotFound
		}
		return nil, err
	}
	phone, err := parse.NormalizePhone(phoneInput, s.DefaultRegion)
	if err != nil {
		return nil, ErrInvalidPhone
	}
	p, err := repo.CreateAuthorizedPhone(ctx, s.DB, householdID, phone, strings.TrimSpace(label), role)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrDuplicatePhone
	}
	return p, err
}

// NewContact describes a contact to provision.
type NewContact struct {
	Name        string
	Category    string
	Phone       string
	Email       string
	ChannelPref string
}

// AddContact provisions a sitter, clinic, or therapy contact. At least one
// address (phone or email) is required.
func (s *AdminService) AddContact(ctx context.Context, householdID string, in NewContact) (*domain.Contact, error) {
	if _, err := repo.GetHousehold(ctx, s.DB, householdID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrHouseholdNotFound
		}
		return nil, err
	}

	c := &domain.Contact{
		HouseholdID: householdID,
		Name:        strings.TrimSpace(in.Name),
		Category:    in.Category,
		ChannelPref: in.ChannelPref,
	}
	if in.Phone != "" {
		phone, err := parse.NormalizePhone(in.Phone, s.DefaultRegion)
		if err != nil {
			return nil, ErrInvalidPhone
		}
		c.Phone = &phone
	}
	if in.Email != "" {
		email := strings.ToLower(strings.TrimSpace(in.Email))
		c.Email = &email
	}
	return repo.CreateContact(ctx, s.DB, c)
}
