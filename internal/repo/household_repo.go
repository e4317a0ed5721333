// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for households and
// their authorized phones.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Locking: LockHousehold is the system's sole concurrency-control primitive.
// It takes the household's exclusive row lock by touching the row inside the
// caller's transaction, which serializes concurrent inbound events for the
// same household while leaving unrelated households fully parallel.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hearthkeep/hearth/internal/domain"
)

// CreateHousehold inserts a new household with the given assistant phone,
// display name, and IANA timezone.
func CreateHousehold(ctx context.Context, db *gorm.DB, assistantPhone, displayName, timezone string) (*domain.Household, error) {
	h := &domain.Household{
		ID:             uuid.NewString(),
		AssistantPhone: assistantPhone,
		DisplayName:    displayName,
		Timezone:       timezone,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(h).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return h, nil
}

// GetHousehold fetches a household by ID, or ErrNotFound.
func GetHousehold(ctx context.Context, db *gorm.DB, id string) (*domain.Household, error) {
	var h domain.Household
	if err := db.WithContext(ctx).Where("id = ?", id).First(&h).Error; err != nil {
		return nil, err
	}
	return &h, nil
}

// GetHouseholdByAssistantPhone resolves the household owning an assistant
// phone number, or ErrNotFound. This is the SMS routing key.
func GetHouseholdByAssistantPhone(ctx context.Context, db *gorm.DB, phone string) (*domain.Household, error) {
	var h domain.Household
	if err := db.WithContext(ctx).Where("assistant_phone = ?", phone).First(&h).Error; err != nil {
		return nil, err
	}
	return &h, nil
}

// LockHousehold acquires the exclusive lock on a household row for the
// remainder of the caller's transaction and returns the locked row.
//
// The lock is taken with a self-assignment UPDATE rather than SELECT ... FOR
// UPDATE so the same statement holds on both SQLite (which has no row
// locking syntax and instead promotes the transaction to a writer) and
// server databases (where the UPDATE takes the row lock). Returns
// ErrNotFound if the household does not exist.
func LockHousehold(ctx context.Context, tx *gorm.DB, id string) (*domain.Household, error) {
	res := tx.WithContext(ctx).
		Model(&domain.Household{}).
		Where("id = ?", id).
		Update("updated_at", gorm.Expr("updated_at"))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return GetHousehold(ctx, tx, id)
}

// LockHouseholdByAssistantPhone resolves a household by assistant phone and
// takes its exclusive lock. See LockHousehold.
func LockHouseholdByAssistantPhone(ctx context.Context, tx *gorm.DB, phone string) (*domain.Household, error) {
	h, err := GetHouseholdByAssistantPhone(ctx, tx, phone)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return LockHousehold(ctx, tx, h.ID)
}

// CreateAuthorizedPhone entitles a phone number to issue commands and
// receive prompts for a household.
func CreateAuthorizedPhone(ctx context.Context, db *gorm.DB, householdID, phone, label, role string) (*domain.AuthorizedPhone, error) {
	if role == "" {
		role = domain.RoleCaregiver
	}
	p := &domain.AuthorizedPhone{
		ID:          uuid.NewString(),
		HouseholdID: householdID,
		Phone:       phone,
		Label:       label,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return p, nil
}

// IsAuthorizedPhone reports whether phone may issue requester commands for
// the household. This is what separates requester traffic from contact
// traffic on the shared inbound channel.
func IsAuthorizedPhone(ctx context.Context, db *gorm.DB, householdID, phone string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.AuthorizedPhone{}).
		Where("household_id = ? AND phone = ?", householdID, phone).
		Count(&n).Error
	return n > 0, err
}
