package discordbot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"

	"github.com/promptfm/radiocore/src/engine"
	"github.com/promptfm/radiocore/src/lifecycle"
	"github.com/promptfm/radiocore/src/types"
)

// Bot is the Discord ingestion adapter. It only parses commands and maps
// Discord identities onto platform users; every admission decision lives
// in the engine.
type Bot struct {
	session     *discordgo.Session
	db          *gorm.DB
	engine      *engine.Engine
	rateLimiter *RateLimiter
}

func New(token string, db *gorm.DB, eng *engine.Engine) (*Bot, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	bot := &Bot{
		session:     dg,
		db:          db,
		engine:      eng,
		rateLimiter: NewRateLimiter(time.Minute),
	}
	dg.AddHandler(bot.handleMessage)
	dg.Identify.Intents = discordgo.IntentsGuildMessages
	return bot, nil
}

func (b *Bot) Name() string { return "discordbot" }

func (b *Bot) Start(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discordbot: open session: %w", err)
	}
	b.rateLimiter.StartCleanup(5 * time.Minute)
	log.Printf("discordbot: connected as %s", b.session.State.User.Username)
	return nil
}

func (b *Bot) Stop(ctx context.Context) {
	if err := b.session.Close(); err != nil {
		log.Printf("discordbot: close session: %v", err)
	}
}

func (b *Bot) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID {
		return
	}

	switch {
	case strings.HasPrefix(m.Content, "!request "):
		b.handleRequest(s, m)
	case strings.HasPrefix(m.Content, "!cancel "):
		b.handleCancel(s, m)
	}
}

func (b *Bot) handleRequest(s *discordgo.Session, m *discordgo.MessageCreate) {
	if !b.rateLimiter.CanUse(m.Author.ID) {
		wait := b.rateLimiter.TimeUntilNext(m.Author.ID)
		s.ChannelMessageSend(m.ChannelID,
			fmt.Sprintf("Please wait %d seconds before requesting again.", int(wait.Seconds())))
		return
	}

	prompt := strings.TrimSpace(strings.TrimPrefix(m.Content, "!request"))
	if prompt == "" {
		s.ChannelMessageSend(m.ChannelID, "Usage: !request <describe the song you want>")
		return
	}

	var ch types.Channel
	if err := b.db.First(&ch, "discord_channel_id = ?", m.ChannelID).Error; err != nil {
		s.ChannelMessageSend(m.ChannelID, "This channel is not linked to a radio station.")
		return
	}

	user, err := b.resolveUser(m.Author)
	if err != nil {
		log.Printf("discordbot: resolve user %s: %v", m.Author.ID, err)
		s.ChannelMessageSend(m.ChannelID, "Failed to process your request. Please try again.")
		return
	}

	req, err := b.engine.Submit(context.Background(), user.ID, ch.ID, prompt, "")
	if err != nil {
		s.ChannelMessageSend(m.ChannelID, submitErrorMessage(err))
		return
	}
	s.ChannelMessageSend(m.ChannelID,
		fmt.Sprintf("Request accepted (`%s`). It will play once it clears moderation and the queue.", req.PublicID))
}

func (b *Bot) handleCancel(s *discordgo.Session, m *discordgo.MessageCreate) {
	id := strings.TrimSpace(strings.TrimPrefix(m.Content, "!cancel"))
	if id == "" {
		s.ChannelMessageSend(m.ChannelID, "Usage: !cancel <request id>")
		return
	}

	err := b.engine.Cancel(context.Background(), id, "user")
	switch {
	case err == nil:
		s.ChannelMessageSend(m.ChannelID, "Request cancelled.")
	case errors.Is(err, lifecycle.ErrNotFound):
		s.ChannelMessageSend(m.ChannelID, "No request with that id.")
	case errors.Is(err, lifecycle.ErrNotCancellable):
		s.ChannelMessageSend(m.ChannelID, "Too late to cancel; generation already started.")
	default:
		log.Printf("discordbot: cancel %s: %v", id, err)
		s.ChannelMessageSend(m.ChannelID, "Failed to cancel. Please try again.")
	}
}

func (b *Bot) resolveUser(author *discordgo.User) (*types.User, error) {
	var user types.User
	err := b.db.Where(types.User{Platform: "discord", PlatformUserID: author.ID}).
		Attrs(types.User{DisplayName: author.Username}).
		FirstOrCreate(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// submitErrorMessage keeps user-facing text generic; detector internals and
// provider errors never reach chat.
func submitErrorMessage(err error) string {
	switch {
	case errors.Is(err, engine.ErrUserTimedOut):
		return "You are temporarily blocked from submitting. Try again later."
	case errors.Is(err, engine.ErrQueueFull):
		return "The queue is full right now. Try again in a few minutes."
	case errors.Is(err, engine.ErrPromptLength):
		return "Prompts must be between 3 and 2000 characters."
	default:
		return "Failed to process your request. Please try again."
	}
}
