// Package services – FanService
//
// This file implements FanService, the read-only queries behind the admin
// API: a single fan with its lore, a page of fans ordered by activity, and a
// page of one fan's messages in conversation order.
//
// Observability: the paged queries are OpenTelemetry-instrumented with
// pagination attributes.

package services

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/persona-engine/internal/domain"
)

// FanRepo is the read side of fan persistence used by the admin API.
type FanRepo interface {
	// GetFan fetches a fan by id.
	GetFan(ctx context.Context, db *gorm.DB, fanID string) (*domain.Fan, error)

	// CountFans returns the number of stored fans.
	CountFans(ctx context.Context, db *gorm.DB) (int64, error)

	// ListFansPage returns a page of fans, most recently updated first.
	ListFansPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Fan, error)

	// CountMessages returns the number of messages stored for a fan.
	CountMessages(ctx context.Context, db *gorm.DB, fanID string) (int64, error)

	// ListMessagesPage returns a page of a fan's messages in chronological order.
	ListMessagesPage(ctx context.Context, db *gorm.DB, fanID string, offset, limit int) ([]domain.Message, error)
}

// FanService answers read-only questions about fans and their conversations.
type FanService struct {
	DB   *gorm.DB
	Repo FanRepo
}

// NewFanService constructs a FanService.
func NewFanService(db *gorm.DB, r FanRepo) *FanService {
	return &FanService{DB: db, Repo: r}
}

// Get returns one fan's memory record.
func (s *FanService) Get(ctx context.Context, fanID string) (*domain.Fan, error) {
	fanID = strings.TrimSpace(fanID)
	if fanID == "" {
		return nil, ErrEmptyFanID
	}
	f, err := s.Repo.GetFan(ctx, s.DB, fanID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFanNotFound
	}
	return f, err
}

// ListPage returns a page of fans and the total count.
func (s *FanService) ListPage(ctx context.Context, page, pageSize int) ([]domain.Fan, int64, error) {
	page, pageSize = normalizePage(page, pageSize)

	ctx, span := otel.Tracer("services/FanService").Start(ctx, "ListPage")
	span.SetAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize))
	defer span.End()

	total, err := s.Repo.CountFans(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Fan{}, 0, nil
	}
	items, err := s.Repo.ListFansPage(ctx, s.DB, (page-1)*pageSize, pageSize)
	return items, total, err
}

// MessagesPage returns a page of a fan's messages (oldest first) and the
// total count. The fan must exist.
func (s *FanService) MessagesPage(ctx context.Context, fanID string, page, pageSize int) ([]domain.Message, int64, error) {
	if _, err := s.Get(ctx, fanID); err != nil {
		return nil, 0, err
	}
	page, pageSize = normalizePage(page, pageSize)

	ctx, span := otel.Tracer("services/FanService").Start(ctx, "MessagesPage")
	span.SetAttributes(
		attribute.String("fan.id", fanID),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)
	defer span.End()

	total, err := s.Repo.CountMessages(ctx, s.DB, fanID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := s.Repo.ListMessagesPage(ctx, s.DB, fanID, (page-1)*pageSize, pageSize)
	return items, total, err
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return page, pageSize
}
