// Package repo provides persistence for household contacts. This file covers
// contact CRUD, channel-scoped lookups, and opt-out flags.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/domain"
)

// CreateContact inserts a new contact owned by householdID.
func CreateContact(ctx context.Context, db *gorm.DB, c *domain.Contact) (*domain.Contact, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ChannelPref == "" {
		c.ChannelPref = domain.ChannelSMS
	}
	c.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetContact fetches a contact by ID within a household, or ErrNotFound.
func GetContact(ctx context.Context, db *gorm.DB, id, householdID string) (*domain.Contact, error) {
	var c domain.Contact
	err := db.WithContext(ctx).
		Where("id = ? AND household_id = ?", id, householdID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetContactByPhone resolves a household's contact by E.164 phone, or
// ErrNotFound. Used to attribute inbound SMS from non-requester numbers.
func GetContactByPhone(ctx context.Context, db *gorm.DB, householdID, phone string) (*domain.Contact, error) {
	var c domain.Contact
	err := db.WithContext(ctx).
		Where("household_id = ? AND phone = ?", householdID, phone).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetContactByEmail resolves a household's contact by email address,
// case-insensitively, or ErrNotFound.
func GetContactByEmail(ctx context.Context, db *gorm.DB, householdID, email string) (*domain.Contact, error) {
	var c domain.Contact
	err := db.WithContext(ctx).
		Where("household_id = ? AND lower(email) = lower(?)", householdID, email).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListOutreachableSitters returns the household's sitter contacts eligible
// for SMS outreach: a phone on file and not opted out, oldest first so
// fan-out order (and option ranking) is stable.
func ListOutreachableSitters(ctx context.Context, db *gorm.DB, householdID string) ([]domain.Contact, error) {
	var out []domain.Contact
	err := db.WithContext(ctx).
		Where("household_id = ? AND category = ? AND phone IS NOT NULL AND sms_opted_out = ?",
			householdID, domain.IntentSitter, false).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// SetContactSmsOptOut flips the contact's SMS opt-out flag.
func SetContactSmsOptOut(ctx context.Context, db *gorm.DB, id string, optedOut bool) error {
	return db.WithContext(ctx).
		Model(&domain.Contact{}).
		Where("id = ?", id).
		Update("sms_opted_out", optedOut).Error
}

// SetContactEmailOptOut flips the contact's email opt-out flag.
func SetContactEmailOptOut(ctx context.Context, db *gorm.DB, id string, optedOut bool) error {
	return db.WithContext(ctx).
		Model(&domain.Contact{}).
		Where("id = ?", id).
		Update("email_opted_out", optedOut).Error
}
