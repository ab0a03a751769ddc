package webserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/promptfm/radiocore/src/engine"
	"github.com/promptfm/radiocore/src/lifecycle"
	"github.com/promptfm/radiocore/src/types"
)

type Broadcast struct {
	db     *gorm.DB
	engine *engine.Engine
}

func NewBroadcast(db *gorm.DB, eng *engine.Engine) Broadcast {
	return Broadcast{db: db, engine: eng}
}

func (b Broadcast) NowPlaying(c *gin.Context) {
	channelID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid channel id"})
		return
	}

	var ch types.Channel
	if err := b.db.First(&ch, channelID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": "channel not found"})
		return
	}
	if ch.BroadcastingRequestID == nil {
		c.JSON(http.StatusOK, gin.H{"playing": false})
		return
	}

	var req types.Request
	if err := b.db.First(&req, *ch.BroadcastingRequestID).Error; err != nil {
		c.JSON(http.StatusOK, gin.H{"playing": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"playing":   true,
		"requestId": req.PublicID,
		"genreTags": req.GenreTags,
		"startedAt": req.BroadcastStartAt,
	})
}

// Finished is the broadcast collaborator's completion callback. It is the
// only thing that ends a broadcast; elapsed time never does.
func (b Broadcast) Finished(c *gin.Context) {
	var req struct {
		RequestID string `json:"requestId" binding:"required,uuid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	err := b.engine.Finished(c.Request.Context(), req.RequestID)
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"err": "request not found"})
		case errors.Is(err, lifecycle.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"err": "request is not broadcasting"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"err": "failed to complete broadcast"})
		}
		return
	}
	c.Status(http.StatusOK)
}
