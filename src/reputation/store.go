package reputation

import (
	"context"

	"github.com/promptfm/radiocore/src/types"
	"gorm.io/gorm"
)

// GormStore persists reputation in the users table. The delta is applied in
// a single UPDATE so concurrent feedback events cannot corrupt the score.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) ApplyDelta(ctx context.Context, userID uint64, delta int64) (int64, error) {
	err := s.db.WithContext(ctx).Model(&types.User{}).
		Where("id = ?", userID).
		Update("reputation_score", gorm.Expr("GREATEST(CAST(reputation_score AS SIGNED) + ?, 0)", delta)).Error
	if err != nil {
		return 0, err
	}
	var user types.User
	if err := s.db.WithContext(ctx).Select("reputation_score").First(&user, userID).Error; err != nil {
		return 0, err
	}
	return user.ReputationScore, nil
}

func (s *GormStore) SetTier(ctx context.Context, userID uint64, tier string) error {
	return s.db.WithContext(ctx).Model(&types.User{}).
		Where("id = ?", userID).
		Update("tier", tier).Error
}
