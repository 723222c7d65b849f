package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/persona-engine/internal/domain"
)

// FanStore bundles the fan and message functions behind a single value that
// the pipeline can hold as an interface.
type FanStore struct {
	DB *gorm.DB
}

// NewFanStore wraps db.
func NewFanStore(db *gorm.DB) *FanStore { return &FanStore{DB: db} }

func (s *FanStore) GetOrCreateFan(ctx context.Context, fanID string) (*domain.Fan, error) {
	return GetOrCreateFan(ctx, s.DB, fanID)
}

func (s *FanStore) InsertMessage(ctx context.Context, m *domain.Message) (bool, error) {
	return InsertMessage(ctx, s.DB, m)
}

func (s *FanStore) RecentMessages(ctx context.Context, fanID string, limit int) ([]domain.Message, error) {
	return RecentMessages(ctx, s.DB, fanID, limit)
}

func (s *FanStore) UpdateLore(ctx context.Context, fanID, lore string) error {
	return UpdateFanLore(ctx, s.DB, fanID, lore)
}

func (s *FanStore) UpdateName(ctx context.Context, fanID, name string) error {
	return UpdateFanName(ctx, s.DB, fanID, name)
}
