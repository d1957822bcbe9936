package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/channels"
	"github.com/nextlevelbuilder/autoreply/internal/config"
)

type fakeBridge struct {
	srv     *httptest.Server
	auth    chan string
	replies chan frame
	toSend  []frame
}

func newFakeBridge(t *testing.T, toSend ...frame) *fakeBridge {
	t.Helper()
	b := &fakeBridge{auth: make(chan string, 4), replies: make(chan frame, 4), toSend: toSend}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range b.toSend {
			data, _ := json.Marshal(f)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if json.Unmarshal(data, &f) == nil {
				b.replies <- f
			}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBridge) url() string { return "ws" + strings.TrimPrefix(b.srv.URL, "http") }

func TestChannel_ReceivesAndReplies(t *testing.T) {
	bridge := newFakeBridge(t,
		frame{Type: "message", AccountID: "a1", From: "buyer", Chat: "chat-7", ItemID: "42", Content: "多少钱", ID: "m-1", TS: 1767225600},
		frame{Type: "presence", From: "buyer"},
	)

	got := make(chan bus.InboundMessage, 1)
	strategy := channels.ReplyStrategyFunc(func(_ context.Context, msg bus.InboundMessage) { got <- msg })

	ch, err := New(config.WSBridgeChannelConfig{BridgeURL: bridge.url(), Token: "secret"}, strategy)
	require.NoError(t, err)
	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop(context.Background())

	assert.Equal(t, "Bearer secret", <-bridge.auth)

	var msg bus.InboundMessage
	select {
	case msg = <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("no inbound message")
	}
	assert.Equal(t, ChannelName, msg.Channel)
	assert.Equal(t, "a1", msg.AccountID)
	assert.Equal(t, "chat-7", msg.ChatID)
	assert.Equal(t, "42", msg.ItemID)
	assert.Equal(t, int64(1767225600), msg.SentAt.Unix())
	assert.Equal(t, "m-1", msg.Metadata[bus.MetaMessageID])
	assert.True(t, ch.IsRunning())

	require.NoError(t, ch.Send(context.Background(), bus.OutboundMessage{
		AccountID: "a1", ChatID: "chat-7", Content: "券码价格¥9",
		Metadata: map[string]string{bus.MetaMessageID: "m-1"},
	}))
	select {
	case r := <-bridge.replies:
		assert.Equal(t, "reply", r.Type)
		assert.Equal(t, "chat-7", r.To)
		assert.Equal(t, "m-1", r.ReplyTo)
		assert.Equal(t, "券码价格¥9", r.Content)
	case <-time.After(3 * time.Second):
		t.Fatal("bridge did not receive reply")
	}
}

func TestChannel_StopWithoutBridge(t *testing.T) {
	ch, err := New(config.WSBridgeChannelConfig{BridgeURL: "ws://127.0.0.1:1/none"}, channels.ReplyStrategyFunc(func(context.Context, bus.InboundMessage) {}))
	require.NoError(t, err)
	require.NoError(t, ch.Start(context.Background()))

	err = ch.Send(context.Background(), bus.OutboundMessage{ChatID: "c", Content: "x"})
	assert.Error(t, err)

	require.NoError(t, ch.Stop(context.Background()))
	assert.False(t, ch.IsRunning())
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(config.WSBridgeChannelConfig{}, nil)
	assert.Error(t, err)
}

func TestNextBackoff(t *testing.T) {
	d := initialBackoff
	for i := 0; i < 10; i++ {
		d = nextBackoff(d)
	}
	assert.Equal(t, maxBackoff, d)
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second))
}
