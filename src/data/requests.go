package data

import (
	"context"
	"errors"
	"time"

	"github.com/promptfm/radiocore/src/lifecycle"
	"github.com/promptfm/radiocore/src/types"
	"gorm.io/gorm"
)

// RequestStore is the gorm-backed lifecycle.Store. The conditional updates
// here are the two critical sections of the whole engine: a claim and a
// broadcast slot acquisition are both single UPDATE ... WHERE statements, so
// concurrent workers resolve races inside the database.
type RequestStore struct {
	db *gorm.DB
}

func NewRequestStore(db *gorm.DB) *RequestStore {
	return &RequestStore{db: db}
}

func (s *RequestStore) Get(ctx context.Context, id uint64) (*types.Request, error) {
	var req types.Request
	if err := s.db.WithContext(ctx).First(&req, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (s *RequestStore) GetByPublicID(ctx context.Context, publicID string) (*types.Request, error) {
	var req types.Request
	if err := s.db.WithContext(ctx).First(&req, "public_id = ?", publicID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// UpdateStatus applies fields and the new status only while the row still
// holds the expected status. Returns false when another worker moved the
// request first.
func (s *RequestStore) UpdateStatus(ctx context.Context, id uint64, from, to lifecycle.Status, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": string(to)}
	for k, v := range fields {
		updates[k] = v
	}
	res := s.db.WithContext(ctx).Model(&types.Request{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *RequestStore) SetModerationStatus(ctx context.Context, id uint64, moderationStatus string) error {
	return s.db.WithContext(ctx).Model(&types.Request{}).
		Where("id = ?", id).
		Update("moderation_status", moderationStatus).Error
}

// AcquireSlot takes the channel broadcast slot iff it is free.
func (s *RequestStore) AcquireSlot(ctx context.Context, channelID, requestID uint64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&types.Channel{}).
		Where("id = ? AND broadcasting_request_id IS NULL", channelID).
		Update("broadcasting_request_id", requestID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseSlot clears the slot only if this request still owns it.
func (s *RequestStore) ReleaseSlot(ctx context.Context, channelID, requestID uint64) error {
	return s.db.WithContext(ctx).Model(&types.Channel{}).
		Where("id = ? AND broadcasting_request_id = ?", channelID, requestID).
		Update("broadcasting_request_id", nil).Error
}

// PendingBatch returns requests awaiting moderation, oldest first.
func (s *RequestStore) PendingBatch(ctx context.Context, limit int) ([]types.Request, error) {
	var reqs []types.Request
	err := s.db.WithContext(ctx).
		Where("status = ?", string(lifecycle.StatusPending)).
		Order("requested_at ASC").
		Limit(limit).
		Find(&reqs).Error
	return reqs, err
}

// QueuedByChannel returns the eligible pool for one channel. Requests whose
// backoff-adjusted requested_at is still in the future are not eligible yet.
func (s *RequestStore) QueuedByChannel(ctx context.Context, channelID uint64) ([]types.Request, error) {
	var reqs []types.Request
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND status = ? AND requested_at <= ?",
			channelID, string(lifecycle.StatusQueued), time.Now().UTC()).
		Find(&reqs).Error
	return reqs, err
}

// QueuedCount counts the live queue for max_queue_size enforcement.
func (s *RequestStore) QueuedCount(ctx context.Context, channelID uint64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&types.Request{}).
		Where("channel_id = ? AND status IN ?", channelID,
			[]string{string(lifecycle.StatusPending), string(lifecycle.StatusModeration), string(lifecycle.StatusQueued)}).
		Count(&n).Error
	return n, err
}

// NextGenerated returns the oldest rendered request waiting for the slot.
func (s *RequestStore) NextGenerated(ctx context.Context, channelID uint64) (*types.Request, error) {
	var req types.Request
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND status = ?", channelID, string(lifecycle.StatusGenerated)).
		Order("generated_at ASC").
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// InFlightCount counts generating plus generated requests for a channel,
// used to cap how far ahead of the broadcast a channel renders.
func (s *RequestStore) InFlightCount(ctx context.Context, channelID uint64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&types.Request{}).
		Where("channel_id = ? AND status IN ?", channelID,
			[]string{string(lifecycle.StatusGenerating), string(lifecycle.StatusGenerated)}).
		Count(&n).Error
	return n, err
}

// StaleGenerating returns requests that exceeded the dwell timeout. The
// dispatcher normally resolves its own timeouts; this sweep catches work
// orphaned by a crashed worker.
func (s *RequestStore) StaleGenerating(ctx context.Context, olderThan time.Time) ([]types.Request, error) {
	var reqs []types.Request
	err := s.db.WithContext(ctx).
		Where("status = ? AND claimed_at < ?", string(lifecycle.StatusGenerating), olderThan).
		Find(&reqs).Error
	return reqs, err
}

// Channels returns every channel the engine schedules for.
func (s *RequestStore) Channels(ctx context.Context) ([]types.Channel, error) {
	var chans []types.Channel
	err := s.db.WithContext(ctx).Find(&chans).Error
	return chans, err
}

func (s *RequestStore) Channel(ctx context.Context, id uint64) (*types.Channel, error) {
	var ch types.Channel
	if err := s.db.WithContext(ctx).First(&ch, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.ErrNotFound
		}
		return nil, err
	}
	return &ch, nil
}

// UsersByIDs fetches the owners of a candidate pool in one query.
func (s *RequestStore) UsersByIDs(ctx context.Context, ids []uint64) (map[uint64]types.User, error) {
	if len(ids) == 0 {
		return map[uint64]types.User{}, nil
	}
	var users []types.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	out := make(map[uint64]types.User, len(users))
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// Create inserts a new request row.
func (s *RequestStore) Create(ctx context.Context, req *types.Request) error {
	return s.db.WithContext(ctx).Create(req).Error
}
