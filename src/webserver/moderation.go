package webserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/promptfm/radiocore/src/engine"
	"github.com/promptfm/radiocore/src/lifecycle"
	"github.com/promptfm/radiocore/src/moderation"
	"github.com/promptfm/radiocore/src/types"
)

type Moderation struct {
	db      *gorm.DB
	engine  *engine.Engine
	auditor moderation.Auditor
}

func NewModeration(db *gorm.DB, eng *engine.Engine, auditor moderation.Auditor) Moderation {
	return Moderation{db: db, engine: eng, auditor: auditor}
}

// ReviewQueue lists requests waiting on a human moderator.
func (m Moderation) ReviewQueue(c *gin.Context) {
	var reqs []types.Request
	err := m.db.Where("status = ? AND moderation_status = ?",
		string(lifecycle.StatusModeration), lifecycle.ModerationReview).
		Order("requested_at ASC").
		Find(&reqs).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": "failed to load review queue"})
		return
	}

	out := make([]gin.H, 0, len(reqs))
	for _, r := range reqs {
		view := requestView(r)
		view["prompt"] = r.Prompt // moderators see the full prompt
		out = append(out, view)
	}
	c.JSON(http.StatusOK, out)
}

// Resolve settles one review. An approval here is an audited bypass of the
// automated gate, attributed to the acting moderator.
func (m Moderation) Resolve(c *gin.Context) {
	var req struct {
		Approve bool `json:"approve"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	actor := c.GetString("actor")
	if actor == "" {
		actor = "moderator"
	}

	err := m.engine.ResolveReview(c.Request.Context(), c.Param("id"), req.Approve, actor, m.auditor)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"err": "request not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// Audit lists the moderation decisions for one request. Rows carry content
// digests only; raw prompts never leave the review surface.
func (m Moderation) Audit(c *gin.Context) {
	var req types.Request
	if err := m.db.First(&req, "public_id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": "request not found"})
		return
	}

	var rows []types.ModerationDecision
	if err := m.db.Where("request_id = ?", req.ID).Order("created_at ASC").Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": "failed to load audit log"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"layer":        row.Layer,
			"verdict":      row.Verdict,
			"scores":       row.CategoryScores,
			"promptHash":   row.PromptHash,
			"promptLength": row.PromptLength,
			"actor":        row.Actor,
			"at":           row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}
