// Package wsbridge connects to a WebSocket bridge that relays a commerce
// platform's buyer chats as JSON frames.
package wsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/channels"
	"github.com/nextlevelbuilder/autoreply/internal/config"
)

// ChannelName is the registered name of the bridge channel.
const ChannelName = "ws_bridge"

const (
	initialBackoff   = time.Second
	maxBackoff       = 30 * time.Second
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// frame is the JSON envelope exchanged with the bridge.
// Inbound: {"type":"message","account_id":..,"from":..,"chat":..,"item_id":..,"content":..,"id":..,"ts":..}
// Outbound: {"type":"reply","account_id":..,"to":..,"content":..,"reply_to":..}
type frame struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id,omitempty"`
	From      string `json:"from,omitempty"`
	Chat      string `json:"chat,omitempty"`
	To        string `json:"to,omitempty"`
	ItemID    string `json:"item_id,omitempty"`
	Content   string `json:"content,omitempty"`
	ID        string `json:"id,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"`
	TS        int64  `json:"ts,omitempty"` // unix seconds
}

// Channel keeps one WebSocket connection to the bridge, reconnecting with
// exponential backoff.
type Channel struct {
	*channels.BaseChannel
	cfg config.WSBridgeChannelConfig

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a bridge channel from config.
func New(cfg config.WSBridgeChannelConfig, strategy channels.ReplyStrategy) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("ws_bridge bridge_url is required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel(ChannelName, strategy, cfg.AllowFrom, channels.NewSenderLimiter(cfg.SenderRPM)),
		cfg:         cfg,
	}, nil
}

// Start dials the bridge and begins listening. A failed first dial is not
// fatal; the listen loop keeps retrying.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("ws_bridge: starting", "bridge_url", c.cfg.BridgeURL)

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		slog.Warn("ws_bridge: initial connection failed, will retry", "error", err)
	}

	go c.listenLoop(ctx)

	c.SetRunning(true)
	return nil
}

// Stop closes the connection and waits for the listen loop to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("ws_bridge: stopping")

	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	if done != nil {
		<-done
	}
	c.SetRunning(false)
	return nil
}

// Send delivers a reply frame to the bridge.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	data, err := json.Marshal(frame{
		Type:      "reply",
		AccountID: msg.AccountID,
		To:        msg.ChatID,
		Content:   msg.Content,
		ReplyTo:   msg.Metadata[bus.MetaMessageID],
	})
	if err != nil {
		return fmt.Errorf("marshal ws_bridge reply: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("ws_bridge not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send ws_bridge reply: %w", err)
	}
	return nil
}

func (c *Channel) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.BridgeURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial ws_bridge %s: status %d: %w", c.cfg.BridgeURL, resp.StatusCode, err)
		}
		return fmt.Errorf("dial ws_bridge %s: %w", c.cfg.BridgeURL, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		_ = conn.Close()
		return ctx.Err()
	}
	c.conn = conn

	slog.Info("ws_bridge: connected", "url", c.cfg.BridgeURL)
	return nil
}

// listenLoop reads frames from the bridge with automatic reconnection.
func (c *Channel) listenLoop(ctx context.Context) {
	defer close(c.done)
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Debug("ws_bridge: reconnecting", "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := c.connect(ctx); err != nil {
				slog.Warn("ws_bridge: reconnect failed", "error", err)
				backoff = nextBackoff(backoff)
				continue
			}
			backoff = initialBackoff
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("ws_bridge: read error, will reconnect", "error", err)
			c.mu.Lock()
			if c.conn == conn {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("ws_bridge: invalid frame", "error", err)
			continue
		}
		if f.Type == "message" {
			c.handleFrame(ctx, f)
		}
	}
}

func (c *Channel) handleFrame(ctx context.Context, f frame) {
	msg := bus.InboundMessage{
		AccountID: f.AccountID,
		SenderID:  f.From,
		ChatID:    f.Chat,
		ItemID:    f.ItemID,
		Content:   f.Content,
	}
	if f.TS > 0 {
		msg.SentAt = time.Unix(f.TS, 0)
	}
	if f.ID != "" {
		msg.Metadata = map[string]string{bus.MetaMessageID: f.ID}
	}

	slog.Debug("ws_bridge: message received",
		"account_id", f.AccountID,
		"sender_id", f.From,
		"preview", channels.Truncate(f.Content, 50),
	)
	c.HandleMessage(ctx, msg)
}

func nextBackoff(d time.Duration) time.Duration {
	return min(d*2, maxBackoff)
}
