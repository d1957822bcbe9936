package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/channels"
	"github.com/nextlevelbuilder/autoreply/internal/config"
)

// ChannelName is the registered name of the Telegram channel.
const ChannelName = "telegram"

// telegramMaxMessageLen is the Bot API limit for one text message.
const telegramMaxMessageLen = 4096

// Channel connects one bot to one account via the Bot API using long polling.
// Only private chats are answered.
type Channel struct {
	*channels.BaseChannel
	bot    *telego.Bot
	config config.TelegramChannelConfig

	items      sync.Map // chatID string → item id selected with /item
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram channel from config.
func New(cfg config.TelegramChannelConfig, strategy channels.ReplyStrategy) (*Channel, error) {
	var opts []telego.BotOption
	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	if cfg.AccountID == "" {
		cfg.AccountID = "default"
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel(ChannelName, strategy, cfg.AllowFrom, channels.NewSenderLimiter(cfg.SenderRPM)),
		bot:         bot,
		config:      cfg,
	}, nil
}

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("telegram: starting (polling mode)", "account", c.config.AccountID)

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		close(c.pollDone)
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram: connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram: updates channel closed")
					return
				}
				if update.Message == nil {
					slog.Debug("telegram: update skipped (no message)", "update_id", update.UpdateID)
					continue
				}
				c.handleMessage(pollCtx, update.Message)
			}
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the polling goroutine to exit so
// Telegram releases the getUpdates lock before a new instance starts.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("telegram: stopping")
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram: polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// Send delivers a reply to the chat it answers.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", msg.ChatID, err)
	}
	params := tu.Message(tu.ID(chatID), channels.Truncate(msg.Content, telegramMaxMessageLen-3))
	if id, err := strconv.Atoi(msg.Metadata[bus.MetaMessageID]); err == nil && id > 0 {
		params = params.WithReplyParameters(&telego.ReplyParameters{MessageID: id, AllowSendingWithoutReply: true})
	}
	if _, err := c.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// handleMessage turns one private text message into an inbound message.
// "/item <id>" and "/start item_<id>" select the item a chat is about;
// the selection is kept in memory for the lifetime of the channel.
func (c *Channel) handleMessage(ctx context.Context, m *telego.Message) {
	if m.From == nil || m.From.IsBot || m.Chat.Type != telego.ChatTypePrivate {
		return
	}
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}

	if item, ok := channels.ParseItemCommand(text); ok {
		if item == "" {
			c.items.Delete(chatID)
		} else {
			c.items.Store(chatID, item)
		}
		slog.Debug("telegram: item selected", "chat_id", chatID, "item_id", item)
		return
	}
	if strings.HasPrefix(text, "/") {
		return
	}

	c.HandleMessage(ctx, c.toInbound(m, chatID, text))
}

func (c *Channel) toInbound(m *telego.Message, chatID, text string) bus.InboundMessage {
	msg := bus.InboundMessage{
		AccountID: c.config.AccountID,
		SenderID:  strconv.FormatInt(m.From.ID, 10),
		ChatID:    chatID,
		Content:   text,
		Metadata: map[string]string{
			bus.MetaMessageID: strconv.Itoa(m.MessageID),
			"username":        m.From.Username,
		},
	}
	if m.Date > 0 {
		msg.SentAt = time.Unix(m.Date, 0)
	}
	if v, ok := c.items.Load(chatID); ok {
		msg.ItemID = v.(string)
	}
	return msg
}
