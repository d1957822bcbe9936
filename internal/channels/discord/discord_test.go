package discord

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/channels"
	"github.com/nextlevelbuilder/autoreply/internal/config"
)

func newTestChannel(t *testing.T) (*Channel, *[]bus.InboundMessage) {
	t.Helper()
	var got []bus.InboundMessage
	ch, err := New(config.DiscordChannelConfig{Token: "test-token", AccountID: "shop"},
		channels.ReplyStrategyFunc(func(_ context.Context, msg bus.InboundMessage) { got = append(got, msg) }))
	require.NoError(t, err)
	ch.botUserID = "bot-1"
	return ch, &got
}

func dm(author, text string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "m-9",
		ChannelID: "dm-" + author,
		Content:   text,
		Timestamp: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC),
		Author:    &discordgo.User{ID: author, Username: "buyer"},
	}
}

func TestHandleMessage_DirectMessages(t *testing.T) {
	ch, got := newTestChannel(t)
	ctx := context.Background()

	ch.handleMessage(ctx, dm("u1", "!item 42"))
	ch.handleMessage(ctx, dm("u1", "这个怎么用"))
	require.Len(t, *got, 1)

	msg := (*got)[0]
	assert.Equal(t, "shop", msg.AccountID)
	assert.Equal(t, "u1", msg.SenderID)
	assert.Equal(t, "dm-u1", msg.ChatID)
	assert.Equal(t, "42", msg.ItemID)
	assert.Equal(t, "m-9", msg.Metadata[bus.MetaMessageID])
	assert.Equal(t, ChannelName, msg.Channel)
	assert.Equal(t, 2026, msg.SentAt.Year())
}

func TestHandleMessage_IgnoresGuildsAndBots(t *testing.T) {
	ch, got := newTestChannel(t)
	ctx := context.Background()

	guild := dm("u1", "多少钱")
	guild.GuildID = "g-1"
	ch.handleMessage(ctx, guild)

	self := dm("bot-1", "多少钱")
	ch.handleMessage(ctx, self)

	other := dm("u2", "多少钱")
	other.Author.Bot = true
	ch.handleMessage(ctx, other)

	ch.handleMessage(ctx, dm("u3", "   "))
	assert.Empty(t, *got)
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(config.DiscordChannelConfig{}, nil)
	assert.Error(t, err)
}

func TestSend_RequiresRunning(t *testing.T) {
	ch, _ := newTestChannel(t)
	assert.Error(t, ch.Send(context.Background(), bus.OutboundMessage{ChatID: "dm-u1", Content: "hi"}))
}
