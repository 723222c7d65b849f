// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Fan model
// (the fan_lore table).
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a fan is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Lore is append-only at the service layer; UpdateFanLore simply stores the
// value it is given.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/persona-engine/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetOrCreateFan returns the fan row for fanID, inserting a default one
// (name "Unknown", empty lore, vibe "Friendly") when none exists. Concurrent
// first contacts race on the primary key; the loser's insert is a no-op and
// both read back the same row.
func GetOrCreateFan(ctx context.Context, db *gorm.DB, fanID string) (*domain.Fan, error) {
	now := time.Now().UTC()
	seed := &domain.Fan{
		FanID:     fanID,
		Name:      domain.DefaultFanName,
		LoreText:  "",
		LastVibe:  domain.DefaultVibe,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "fan_id"}}, DoNothing: true}).
		Create(seed).Error
	if err != nil {
		return nil, err
	}
	return GetFan(ctx, db, fanID)
}

// GetFan fetches a single fan by id, or ErrNotFound if missing.
func GetFan(ctx context.Context, db *gorm.DB, fanID string) (*domain.Fan, error) {
	var f domain.Fan
	if err := db.WithContext(ctx).Where("fan_id = ?", fanID).First(&f).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// CountFans returns the number of fan records.
func CountFans(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Fan{}).Count(&total).Error
	return total, err
}

// ListFansPage returns a page of fans ordered by most recent activity.
// The caller computes offset and limit (e.g., (page-1)*pageSize).
func ListFansPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Fan, error) {
	var out []domain.Fan
	err := db.WithContext(ctx).
		Order("updated_at DESC, fan_id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateFanLore replaces the stored lore text for fanID.
// Returns ErrNotFound when no row matched.
func UpdateFanLore(ctx context.Context, db *gorm.DB, fanID, lore string) error {
	return updateFan(ctx, db, fanID, map[string]any{"lore_text": lore})
}

// UpdateFanName sets the display name for fanID.
// Returns ErrNotFound when no row matched.
func UpdateFanName(ctx context.Context, db *gorm.DB, fanID, name string) error {
	return updateFan(ctx, db, fanID, map[string]any{"name": name})
}

func updateFan(ctx context.Context, db *gorm.DB, fanID string, cols map[string]any) error {
	cols["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Fan{}).
		Where("fan_id = ?", fanID).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
