// Package stdio is a line-delimited JSON channel: one inbound message per
// line on the reader, one reply per line on the writer.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/channels"
)

// ChannelName is the registered name of the stdio channel.
const ChannelName = "stdio"

const maxLineBytes = 1 << 20

// inboundLine is the wire shape of one input line.
type inboundLine struct {
	AccountID string    `json:"account_id"`
	SenderID  string    `json:"sender_id"`
	ChatID    string    `json:"chat_id,omitempty"`
	ItemID    string    `json:"item_id,omitempty"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sent_at,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
}

// outboundLine is the wire shape of one output line.
type outboundLine struct {
	AccountID string `json:"account_id"`
	ChatID    string `json:"chat_id"`
	Content   string `json:"content"`
	Intent    string `json:"intent,omitempty"`
	Source    string `json:"source,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Channel reads messages from in and writes replies to out.
type Channel struct {
	*channels.BaseChannel
	in   io.Reader
	out  io.Writer
	wmu  sync.Mutex
	done chan struct{}
}

// New creates a stdio channel over the given streams.
func New(in io.Reader, out io.Writer, strategy channels.ReplyStrategy, allowFrom []string, limiter *channels.SenderLimiter) *Channel {
	return &Channel{
		BaseChannel: channels.NewBaseChannel(ChannelName, strategy, allowFrom, limiter),
		in:          in,
		out:         out,
		done:        make(chan struct{}),
	}
}

// Start begins reading lines in the background.
func (c *Channel) Start(ctx context.Context) error {
	c.SetRunning(true)
	go c.readLoop(ctx)
	return nil
}

// Stop marks the channel stopped. A reader blocked on an open stream is
// released only when that stream is closed.
func (c *Channel) Stop(context.Context) error {
	c.SetRunning(false)
	return nil
}

// Done is closed when the input reaches EOF or the start context ends.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) readLoop(ctx context.Context) {
	defer close(c.done)
	defer c.SetRunning(false)

	sc := bufio.NewScanner(c.in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var in inboundLine
		if err := json.Unmarshal([]byte(line), &in); err != nil {
			slog.Warn("stdio: invalid message line", "error", err, "preview", channels.Truncate(line, 50))
			continue
		}
		msg := bus.InboundMessage{
			AccountID: in.AccountID,
			SenderID:  in.SenderID,
			ChatID:    in.ChatID,
			ItemID:    in.ItemID,
			Content:   in.Content,
			SentAt:    in.SentAt,
		}
		if in.MessageID != "" {
			msg.Metadata = map[string]string{bus.MetaMessageID: in.MessageID}
		}
		slog.Debug("stdio: message received", "sender_id", in.SenderID, "preview", channels.Truncate(in.Content, 50))
		c.HandleMessage(ctx, msg)
	}
	if err := sc.Err(); err != nil {
		slog.Warn("stdio: read failed", "error", err)
	}
}

// Send writes one reply line.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	line := outboundLine{
		AccountID: msg.AccountID,
		ChatID:    msg.ChatID,
		Content:   msg.Content,
		Intent:    msg.Metadata[bus.MetaIntent],
		Source:    msg.Metadata[bus.MetaSource],
		MessageID: msg.Metadata[bus.MetaMessageID],
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("stdio: marshal reply: %w", err)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("stdio: write reply: %w", err)
	}
	return nil
}
