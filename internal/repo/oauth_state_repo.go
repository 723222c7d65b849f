// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores the PKCE verifiers of pending OAuth logins
// so the callback can complete on any replica.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/persona-engine/internal/domain"
)

// ErrDuplicate indicates that an OAuth state with the same value already exists.
var ErrDuplicate = errors.New("duplicate")

// CreateOAuthState records a pending login. Returns ErrDuplicate on a state collision.
func CreateOAuthState(ctx context.Context, db *gorm.DB, state, verifier string, ttl time.Duration) (*domain.OAuthState, error) {
	now := time.Now().UTC()
	rec := &domain.OAuthState{
		State:     state,
		Verifier:  verifier,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// ConsumeOAuthState deletes the state row and returns it, so each state can
// complete at most one login. Expired or unknown states yield ErrNotFound.
func ConsumeOAuthState(ctx context.Context, db *gorm.DB, state string, now time.Time) (*domain.OAuthState, error) {
	if strings.TrimSpace(state) == "" {
		return nil, ErrNotFound
	}
	var rec domain.OAuthState
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("state = ? AND expires_at > ?", state, now).First(&rec).Error; err != nil {
			return err
		}
		res := tx.Where("state = ?", state).Delete(&domain.OAuthState{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// PruneExpiredOAuthStates removes abandoned logins and reports how many rows went.
func PruneExpiredOAuthStates(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.OAuthState{})
	return res.RowsAffected, res.Error
}

func isUniqueViolation(err error) bool {
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}
