package webserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"gorm.io/gorm"

	"github.com/promptfm/radiocore/src/engine"
	"github.com/promptfm/radiocore/src/lifecycle"
	"github.com/promptfm/radiocore/src/scoring"
	"github.com/promptfm/radiocore/src/types"
)

type Requests struct {
	db        *gorm.DB
	engine    *engine.Engine
	scorer    *scoring.Scorer
	sanitizer *bluemonday.Policy
}

func NewRequests(db *gorm.DB, eng *engine.Engine, scorer *scoring.Scorer) Requests {
	return Requests{
		db:        db,
		engine:    eng,
		scorer:    scorer,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

func (h Requests) Submit(c *gin.Context) {
	var req struct {
		UserID    uint64 `json:"userId" binding:"required"`
		ChannelID uint64 `json:"channelId" binding:"required"`
		Prompt    string `json:"prompt" binding:"required,min=3,max=2000"`
		GenreTags string `json:"genreTags" binding:"max=255"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	prompt := h.sanitizer.Sanitize(req.Prompt)
	if !utf8.ValidString(prompt) || !utf8.ValidString(req.GenreTags) {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid characters in input"})
		return
	}

	created, err := h.engine.Submit(c.Request.Context(), req.UserID, req.ChannelID, prompt, req.GenreTags)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrPromptLength):
			c.JSON(http.StatusBadRequest, gin.H{"err": "prompt length out of bounds"})
		case errors.Is(err, engine.ErrQueueFull):
			c.JSON(http.StatusConflict, gin.H{"err": "channel queue is full"})
		case errors.Is(err, engine.ErrUserTimedOut):
			c.JSON(http.StatusTooManyRequests, gin.H{"err": "submission timeout in effect"})
		case errors.Is(err, lifecycle.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"err": "channel not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"err": "failed to submit request"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"requestId": created.PublicID, "status": created.Status})
}

func (h Requests) Status(c *gin.Context) {
	var req types.Request
	if err := h.db.First(&req, "public_id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": "request not found"})
		return
	}
	c.JSON(http.StatusOK, requestView(req))
}

func (h Requests) Cancel(c *gin.Context) {
	actor := c.DefaultQuery("actor", "user")
	err := h.engine.Cancel(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"err": "request not found"})
		case errors.Is(err, lifecycle.ErrNotCancellable):
			c.JSON(http.StatusConflict, gin.H{"err": "request can no longer be cancelled"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"err": "failed to cancel request"})
		}
		return
	}
	c.Status(http.StatusNoContent)
}

// Queue lists a channel's queued pool with scores recomputed on the spot;
// the stored priority_score is never treated as authoritative.
func (h Requests) Queue(c *gin.Context) {
	channelID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid channel id"})
		return
	}

	var reqs []types.Request
	if err := h.db.Where("channel_id = ? AND status = ?", channelID, string(lifecycle.StatusQueued)).
		Find(&reqs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": "failed to load queue"})
		return
	}

	owners, err := h.queueOwners(reqs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": "failed to load queue"})
		return
	}
	c.JSON(http.StatusOK, queueViews(reqs, owners, h.scorer, time.Now().UTC()))
}

// queueOwners batches the owner lookup for a queued pool in one query.
func (h Requests) queueOwners(reqs []types.Request) (map[uint64]types.User, error) {
	if len(reqs) == 0 {
		return map[uint64]types.User{}, nil
	}
	ids := make([]uint64, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.UserID)
	}
	var users []types.User
	if err := h.db.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	owners := make(map[uint64]types.User, len(users))
	for _, u := range users {
		owners[u.ID] = u
	}
	return owners, nil
}

// queueViews renders the pool with scores recomputed on the spot. Requests
// whose owner row is missing are skipped rather than scored blind.
func queueViews(reqs []types.Request, owners map[uint64]types.User, scorer *scoring.Scorer, now time.Time) []gin.H {
	out := make([]gin.H, 0, len(reqs))
	for _, r := range reqs {
		user, ok := owners[r.UserID]
		if !ok {
			continue
		}
		view := requestView(r)
		view["score"] = scorer.Score(&r, &user, now, nil)
		out = append(out, view)
	}
	return out
}

func requestView(r types.Request) gin.H {
	return gin.H{
		"requestId":   r.PublicID,
		"channelId":   r.ChannelID,
		"status":      r.Status,
		"genreTags":   r.GenreTags,
		"upvotes":     r.Upvotes,
		"downvotes":   r.Downvotes,
		"retryCount":  r.RetryCount,
		"requestedAt": r.RequestedAt,
	}
}
