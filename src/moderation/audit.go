package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/OneOfOne/xxhash"
	"github.com/promptfm/radiocore/src/types"
	"gorm.io/gorm"
)

// Auditor records every layer decision. Rows carry a digest and length of
// the prompt, never the text itself.
type Auditor interface {
	Record(ctx context.Context, requestID uint64, layer, verdict string, scores map[string]float64, prompt, actor string)
}

type gormAuditor struct {
	db *gorm.DB
}

func NewAuditor(db *gorm.DB) Auditor {
	return &gormAuditor{db: db}
}

func (a *gormAuditor) Record(ctx context.Context, requestID uint64, layer, verdict string, scores map[string]float64, prompt, actor string) {
	var encoded string
	if len(scores) > 0 {
		if b, err := json.Marshal(scores); err == nil {
			encoded = string(b)
		}
	}
	row := types.ModerationDecision{
		RequestID:      requestID,
		Layer:          layer,
		Verdict:        verdict,
		CategoryScores: encoded,
		PromptHash:     PromptHash(prompt),
		PromptLength:   len(prompt),
		Actor:          actor,
	}
	if err := a.db.WithContext(ctx).Create(&row).Error; err != nil {
		log.Printf("moderation: audit record for request %d layer %s: %v", requestID, layer, err)
	}
}

// PromptHash digests prompt content for audit rows.
func PromptHash(prompt string) string {
	return fmt.Sprintf("%016x", xxhash.ChecksumString64(prompt))
}
