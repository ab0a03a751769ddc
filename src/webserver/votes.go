package webserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/promptfm/radiocore/src/engine"
	"github.com/promptfm/radiocore/src/lifecycle"
)

type Votes struct {
	engine *engine.Engine
}

func NewVotes(eng *engine.Engine) Votes { return Votes{engine: eng} }

func (v Votes) Cast(c *gin.Context) {
	var req struct {
		RequestID string `json:"requestId" binding:"required,uuid"`
		UserID    uint64 `json:"userId" binding:"required"`
		Choice    string `json:"choice" binding:"required,oneof=up down"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	choice := engine.ChoiceUp
	if req.Choice == "down" {
		choice = engine.ChoiceDown
	}

	err := v.engine.Vote(c.Request.Context(), req.RequestID, req.UserID, choice)
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"err": "request not found"})
		case errors.Is(err, engine.ErrVoteClosed):
			c.JSON(http.StatusConflict, gin.H{"err": "request no longer accepts votes"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"err": "failed to record vote"})
		}
		return
	}
	c.Status(http.StatusCreated)
}
