package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/channels"
	"github.com/nextlevelbuilder/autoreply/internal/config"
)

// ChannelName is the registered name of the Discord channel.
const ChannelName = "discord"

// discordMaxMessageLen is the API limit for one message.
const discordMaxMessageLen = 2000

// Channel connects one bot to one account via the Discord gateway.
// Only direct messages are answered.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	config    config.DiscordChannelConfig
	botUserID string
	items     sync.Map // channelID string → item id selected with !item
}

// New creates a Discord channel from config.
func New(cfg config.DiscordChannelConfig, strategy channels.ReplyStrategy) (*Channel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	if cfg.AccountID == "" {
		cfg.AccountID = "default"
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel(ChannelName, strategy, cfg.AllowFrom, channels.NewSenderLimiter(cfg.SenderRPM)),
		session:     session,
		config:      cfg,
	}, nil
}

// Start opens the gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("discord: starting", "account", c.config.AccountID)
	c.session.AddHandler(c.onMessageCreate)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord: connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("discord: stopping")
	c.SetRunning(false)
	return c.session.Close()
}

// Send delivers a reply to the DM channel it answers, as a reply to the
// inbound message when its id is known.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("empty chat ID for discord send")
	}
	content := channels.Truncate(msg.Content, discordMaxMessageLen-3)

	var err error
	if id := msg.Metadata[bus.MetaMessageID]; id != "" {
		_, err = c.session.ChannelMessageSendReply(msg.ChatID, content, &discordgo.MessageReference{
			MessageID: id,
			ChannelID: msg.ChatID,
		})
	} else {
		_, err = c.session.ChannelMessageSend(msg.ChatID, content)
	}
	if err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	return nil
}

func (c *Channel) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	c.handleMessage(context.Background(), m.Message)
}

// handleMessage turns one direct message into an inbound message.
func (c *Channel) handleMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == c.botUserID || m.GuildID != "" {
		return
	}
	text := strings.TrimSpace(m.Content)
	if item, ok := channels.ParseItemCommand(text); ok {
		if item == "" {
			c.items.Delete(m.ChannelID)
		} else {
			c.items.Store(m.ChannelID, item)
		}
		return
	}
	if text == "" {
		return
	}

	msg := bus.InboundMessage{
		AccountID: c.config.AccountID,
		SenderID:  m.Author.ID,
		ChatID:    m.ChannelID,
		Content:   text,
		SentAt:    m.Timestamp,
		Metadata: map[string]string{
			bus.MetaMessageID: m.ID,
			"username":        m.Author.Username,
		},
	}
	if v, ok := c.items.Load(m.ChannelID); ok {
		msg.ItemID = v.(string)
	}
	c.HandleMessage(ctx, msg)
}
