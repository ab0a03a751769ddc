package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/promptfm/radiocore/src/lifecycle"
	"github.com/promptfm/radiocore/src/types"
	"gorm.io/gorm"
)

// Vote choices.
const (
	ChoiceUp   int8 = 1
	ChoiceDown int8 = -1
)

var ErrVoteClosed = errors.New("engine: request no longer accepts votes")

// voteDeltas computes the count adjustments for a new vote given the
// voter's previous choice. A repeated identical vote is a no-op, so
// submitting the same vote twice never double-counts.
func voteDeltas(prev *int8, choice int8) (dUp, dDown int, changed bool) {
	if prev != nil && *prev == choice {
		return 0, 0, false
	}
	if choice == ChoiceUp {
		dUp = 1
	} else {
		dDown = 1
	}
	if prev != nil {
		if *prev == ChoiceUp {
			dUp--
		} else {
			dDown--
		}
	}
	return dUp, dDown, true
}

// Vote records or updates one user's vote on a request and applies the
// count delta atomically. Terminal requests no longer accept votes.
func (e *Engine) Vote(ctx context.Context, publicID string, userID uint64, choice int8) error {
	if choice != ChoiceUp && choice != ChoiceDown {
		return fmt.Errorf("engine: invalid vote choice %d", choice)
	}
	req, err := e.store.GetByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	if lifecycle.Status(req.Status).Terminal() {
		return ErrVoteClosed
	}

	var changed bool
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev *int8
		var existing types.Vote
		ferr := tx.Where("request_id = ? AND user_id = ?", req.ID, userID).First(&existing).Error
		switch {
		case ferr == nil:
			prev = &existing.Choice
		case errors.Is(ferr, gorm.ErrRecordNotFound):
		default:
			return ferr
		}

		dUp, dDown, ch := voteDeltas(prev, choice)
		changed = ch
		if !changed {
			return nil
		}

		if prev == nil {
			vote := types.Vote{RequestID: req.ID, UserID: userID, Choice: choice}
			if cerr := tx.Create(&vote).Error; cerr != nil {
				return cerr
			}
		} else {
			if uerr := tx.Model(&existing).Update("choice", choice).Error; uerr != nil {
				return uerr
			}
		}

		return tx.Model(&types.Request{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
			"upvotes":   gorm.Expr("upvotes + ?", dUp),
			"downvotes": gorm.Expr("downvotes + ?", dDown),
		}).Error
	})
	if err != nil {
		return fmt.Errorf("engine: vote on %s: %w", publicID, err)
	}
	if !changed {
		return nil
	}

	event := "upvoted"
	if choice == ChoiceDown {
		event = "downvoted"
	}
	if rerr := e.reputation.Apply(ctx, req.UserID, event); rerr != nil {
		log.Printf("engine: reputation feedback for vote on %s: %v", publicID, rerr)
	}
	if e.events != nil {
		if perr := e.events.Publish(ctx, "vote", map[string]interface{}{
			"request_id": req.PublicID,
			"channel_id": req.ChannelID,
			"choice":     event,
		}); perr != nil {
			log.Printf("engine: publish vote for %s: %v", publicID, perr)
		}
	}
	return nil
}
