package telegram

import (
	"context"
	"strings"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/channels"
	"github.com/nextlevelbuilder/autoreply/internal/config"
)

var testToken = "123456789:" + strings.Repeat("A", 35)

func newTestChannel(t *testing.T, allow ...string) (*Channel, *[]bus.InboundMessage) {
	t.Helper()
	var got []bus.InboundMessage
	strategy := channels.ReplyStrategyFunc(func(_ context.Context, msg bus.InboundMessage) { got = append(got, msg) })
	ch, err := New(config.TelegramChannelConfig{Token: testToken, AccountID: "shop", AllowFrom: allow}, strategy)
	require.NoError(t, err)
	return ch, &got
}

func private(from int64, text string) *telego.Message {
	return &telego.Message{
		MessageID: 77,
		From:      &telego.User{ID: from, Username: "buyer"},
		Chat:      telego.Chat{ID: from, Type: telego.ChatTypePrivate},
		Date:      1767225600,
		Text:      text,
	}
}

func TestHandleMessage_CarriesSelectedItem(t *testing.T) {
	ch, got := newTestChannel(t)
	ctx := context.Background()

	ch.handleMessage(ctx, private(5, "/item 42"))
	require.Empty(t, *got, "commands are not forwarded")

	ch.handleMessage(ctx, private(5, " 这个多少钱 "))
	require.Len(t, *got, 1)
	msg := (*got)[0]
	assert.Equal(t, "shop", msg.AccountID)
	assert.Equal(t, "5", msg.SenderID)
	assert.Equal(t, "5", msg.ChatID)
	assert.Equal(t, "42", msg.ItemID)
	assert.Equal(t, "这个多少钱", msg.Content)
	assert.Equal(t, "77", msg.Metadata[bus.MetaMessageID])
	assert.Equal(t, ChannelName, msg.Channel)
	assert.Equal(t, int64(1767225600), msg.SentAt.Unix())

	ch.handleMessage(ctx, private(5, "/item"))
	ch.handleMessage(ctx, private(5, "还有吗"))
	require.Len(t, *got, 2)
	assert.Empty(t, (*got)[1].ItemID)
}

func TestHandleMessage_SkipsGroupsBotsAndBlocked(t *testing.T) {
	ch, got := newTestChannel(t, "5")
	ctx := context.Background()

	group := private(5, "多少钱")
	group.Chat.Type = telego.ChatTypeGroup
	ch.handleMessage(ctx, group)

	bot := private(5, "多少钱")
	bot.From.IsBot = true
	ch.handleMessage(ctx, bot)

	ch.handleMessage(ctx, private(6, "多少钱"))
	assert.Empty(t, *got)

	ch.handleMessage(ctx, private(5, "多少钱"))
	assert.Len(t, *got, 1)
}

func TestNew_RejectsBadToken(t *testing.T) {
	_, err := New(config.TelegramChannelConfig{Token: "nope"}, channels.ReplyStrategyFunc(func(context.Context, bus.InboundMessage) {}))
	assert.Error(t, err)

	_, err = New(config.TelegramChannelConfig{Token: testToken, Proxy: "://bad"}, nil)
	assert.Error(t, err)
}
