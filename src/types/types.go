package types

import "time"

// Channels
type Channel struct {
	ID                    uint64 `gorm:"primaryKey"`
	Name                  string `gorm:"size:64;unique;not null"`
	Kind                  string `gorm:"size:16;default:public"` // public or private
	ModerationStrictness  string `gorm:"size:16;default:standard"`
	AllowExplicitLyrics   bool   `gorm:"default:false"`
	RequiresApproval      bool   `gorm:"default:false"`
	MaxQueueSize          int    `gorm:"default:50"`
	DiscordChannelID      string `gorm:"size:64"`
	BroadcastingRequestID *uint64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Listeners who submit requests
type User struct {
	ID              uint64 `gorm:"primaryKey"`
	Platform        string `gorm:"size:16;not null;uniqueIndex:idx_platform_user"`
	PlatformUserID  string `gorm:"size:64;not null;uniqueIndex:idx_platform_user"`
	DisplayName     string `gorm:"size:64"`
	ReputationScore int64  `gorm:"default:100"`
	Tier            string `gorm:"size:16;default:new"`
	IsPremium       bool   `gorm:"default:false"`
	ViolationCount  int    `gorm:"default:0"`
	LastRequestAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Song requests
type Request struct {
	ID               uint64 `gorm:"primaryKey"`
	PublicID         string `gorm:"size:36;unique;not null"` // uuid handed to clients
	UserID           uint64 `gorm:"index;not null"`
	ChannelID        uint64 `gorm:"index:idx_channel_status;not null"`
	Prompt           string `gorm:"type:text;not null"`
	GenreTags        string `gorm:"size:255"` // comma separated detected tags
	Status           string `gorm:"size:16;index:idx_channel_status;not null"`
	ModerationStatus string `gorm:"size:16;default:pending"`
	PriorityScore    float64 `gorm:"default:0"` // cache only, recomputed each tick
	BasePriority     float64 `gorm:"default:0"`
	Upvotes          int     `gorm:"default:0"`
	Downvotes        int     `gorm:"default:0"`
	RetryCount       int     `gorm:"default:0"`
	RequestedAt      time.Time
	ModeratedAt      *time.Time
	ClaimedAt        *time.Time
	GeneratedAt      *time.Time
	BroadcastStartAt *time.Time
	CompletedAt      *time.Time
	ProviderJobID    string `gorm:"size:128"`
	AudioReference   string `gorm:"size:256"`
	ErrorReason      string `gorm:"size:64"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Votes on queued requests, one row per (request, user)
type Vote struct {
	ID        uint64 `gorm:"primaryKey"`
	RequestID uint64 `gorm:"uniqueIndex:idx_request_user;not null"`
	UserID    uint64 `gorm:"uniqueIndex:idx_request_user;not null"`
	Choice    int8   `gorm:"not null"` // 1 up, -1 down
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Append-only moderation audit. Stores digests of prompt content, never the text.
type ModerationDecision struct {
	ID             uint64 `gorm:"primaryKey"`
	RequestID      uint64 `gorm:"index;not null"`
	Layer          string `gorm:"size:32;not null"`
	Verdict        string `gorm:"size:16;not null"`
	CategoryScores string `gorm:"type:text"` // json encoded category -> score
	PromptHash     string `gorm:"size:32;not null"`
	PromptLength   int    `gorm:"not null"`
	Actor          string `gorm:"size:64"` // set on moderator overrides
	CreatedAt      time.Time
}

// Settings
type Setting struct {
	ID    uint8  `gorm:"primaryKey"`
	Name  string `gorm:"size:32;not null"`
	Value string `gorm:"size:256;not null"`
}
