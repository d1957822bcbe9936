package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/channels"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu   sync.Mutex
	msgs []bus.InboundMessage
}

func (r *recorder) OnMessage(_ context.Context, msg bus.InboundMessage) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func TestChannel_ReadsLines(t *testing.T) {
	input := strings.Join([]string{
		`{"account_id":"a1","sender_id":"u1","item_id":"42","content":"多少钱","message_id":"m1"}`,
		``,
		`not json`,
		`{"account_id":"a1","sender_id":"blocked","content":"hi"}`,
		`{"account_id":"","sender_id":"u2","content":"no account"}`,
		`{"account_id":"a1","sender_id":"u1","chat_id":"c9","content":"怎么用","sent_at":"2026-01-02T03:04:05Z"}`,
	}, "\n")

	rec := &recorder{}
	ch := New(strings.NewReader(input), &bytes.Buffer{}, rec, []string{"u1"}, nil)
	require.NoError(t, ch.Start(context.Background()))

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not finish")
	}
	assert.False(t, ch.IsRunning())

	require.Len(t, rec.msgs, 2)
	first := rec.msgs[0]
	assert.Equal(t, ChannelName, first.Channel)
	assert.Equal(t, "u1", first.ChatID, "chat defaults to sender")
	assert.Equal(t, "42", first.ItemID)
	assert.Equal(t, "m1", first.Metadata[bus.MetaMessageID])

	second := rec.msgs[1]
	assert.Equal(t, "c9", second.ChatID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), second.SentAt.UTC())
}

func TestChannel_RateLimitsSender(t *testing.T) {
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, `{"account_id":"a","sender_id":"u","content":"x"}`)
	}
	rec := &recorder{}
	ch := New(strings.NewReader(strings.Join(lines, "\n")), &bytes.Buffer{}, rec, nil, channels.NewSenderLimiter(2))
	require.NoError(t, ch.Start(context.Background()))
	<-ch.Done()
	assert.Len(t, rec.msgs, 2)
}

func TestChannel_SendWritesJSONLine(t *testing.T) {
	var out bytes.Buffer
	ch := New(strings.NewReader(""), &out, channels.ReplyStrategyFunc(func(context.Context, bus.InboundMessage) {}), nil, nil)

	require.NoError(t, ch.Send(context.Background(), bus.OutboundMessage{
		Channel: ChannelName, AccountID: "a", ChatID: "c", Content: "券码价格¥9",
		Metadata: map[string]string{bus.MetaIntent: "price", bus.MetaSource: "fixed"},
	}))

	var got outboundLine
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &got))
	assert.Equal(t, "券码价格¥9", got.Content)
	assert.Equal(t, "price", got.Intent)
	assert.Equal(t, "fixed", got.Source)
	assert.True(t, strings.HasSuffix(out.String(), "\n"))
}
