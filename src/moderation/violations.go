package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/promptfm/radiocore/src/types"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Violation window policy: three rejections inside the rolling window put
// the user in a temporary submission timeout, checked before a new request
// is even queued.
const (
	ViolationWindow    = 30 * time.Minute
	ViolationThreshold = 3
	SubmissionTimeout  = 15 * time.Minute
)

// ViolationTracker keeps the rolling rejection window in redis and the
// lifetime violation_count in the users table.
type ViolationTracker struct {
	db  *gorm.DB
	rdb *redis.Client
}

func NewViolationTracker(db *gorm.DB, rdb *redis.Client) *ViolationTracker {
	return &ViolationTracker{db: db, rdb: rdb}
}

func violationKey(userID uint64) string {
	return fmt.Sprintf("radio:violations:%d", userID)
}

func timeoutKey(userID uint64) string {
	return fmt.Sprintf("radio:submit_timeout:%d", userID)
}

// RecordRejection bumps the lifetime counter, appends the rejection to the
// rolling window and starts the submission timeout once the threshold is
// crossed.
func (t *ViolationTracker) RecordRejection(ctx context.Context, userID uint64) error {
	err := t.db.WithContext(ctx).Model(&types.User{}).
		Where("id = ?", userID).
		Update("violation_count", gorm.Expr("violation_count + 1")).Error
	if err != nil {
		return fmt.Errorf("moderation: increment violation count for user %d: %w", userID, err)
	}

	key := violationKey(userID)
	now := time.Now()
	cutoff := now.Add(-ViolationWindow)

	pipe := t.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, ViolationWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("moderation: violation window for user %d: %w", userID, err)
	}

	if count.Val() >= ViolationThreshold {
		if err := t.rdb.Set(ctx, timeoutKey(userID), "1", SubmissionTimeout).Err(); err != nil {
			return fmt.Errorf("moderation: submission timeout for user %d: %w", userID, err)
		}
	}
	return nil
}

// InTimeout reports whether the user is currently barred from submitting.
func (t *ViolationTracker) InTimeout(ctx context.Context, userID uint64) (bool, error) {
	n, err := t.rdb.Exists(ctx, timeoutKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
