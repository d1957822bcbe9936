package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
)

type collected struct {
	mu   sync.Mutex
	msgs []bus.InboundMessage
}

func (c *collected) OnMessage(_ context.Context, msg bus.InboundMessage) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func TestBaseChannel_HandleMessage(t *testing.T) {
	got := &collected{}
	ch := NewBaseChannel("test", got, []string{"@alice"}, nil)
	ctx := context.Background()

	assert.False(t, ch.HandleMessage(ctx, bus.InboundMessage{AccountID: "a", Content: "x"}), "no sender")
	assert.False(t, ch.HandleMessage(ctx, bus.InboundMessage{SenderID: "alice", Content: "x"}), "no account")
	assert.False(t, ch.HandleMessage(ctx, bus.InboundMessage{AccountID: "a", SenderID: "bob"}), "not allowed")

	require.True(t, ch.HandleMessage(ctx, bus.InboundMessage{AccountID: "a", SenderID: "alice", Content: "在吗"}))
	require.Len(t, got.msgs, 1)
	assert.Equal(t, "test", got.msgs[0].Channel)
	assert.Equal(t, "alice", got.msgs[0].ChatID, "chat defaults to sender")
}

func TestBaseChannel_RateLimitsPerSender(t *testing.T) {
	got := &collected{}
	ch := NewBaseChannel("test", got, nil, NewSenderLimiter(2))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ch.HandleMessage(ctx, bus.InboundMessage{AccountID: "a", SenderID: "u1"})
	}
	assert.True(t, ch.HandleMessage(ctx, bus.InboundMessage{AccountID: "a", SenderID: "u2"}))
	assert.True(t, ch.HandleMessage(ctx, bus.InboundMessage{AccountID: "b", SenderID: "u1"}), "budget is per account")
	assert.Len(t, got.msgs, 4)
}

func TestSenderLimiter_Refills(t *testing.T) {
	l := NewSenderLimiter(60)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < 60; i++ {
		require.True(t, l.Allow("k"))
	}
	assert.False(t, l.Allow("k"))
	now = now.Add(time.Second)
	assert.True(t, l.Allow("k"), "one token per second")
	assert.Equal(t, 1, l.Len())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "你好", Truncate("你好", 5))
	assert.Equal(t, "你好世...", Truncate("你好世界啊啊", 3))
}

func TestParseItemCommand(t *testing.T) {
	cases := []struct {
		in   string
		item string
		ok   bool
	}{
		{"/item 42", "42", true},
		{"/item@shop_bot 42", "42", true},
		{"!item 42", "42", true},
		{"/item", "", true},
		{"/start item_9001", "9001", true},
		{"/start", "", false},
		{"多少钱", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		item, ok := ParseItemCommand(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.item, item, tc.in)
	}
}

type fakeChannel struct {
	name     string
	startErr error
	mu       sync.Mutex
	sent     []bus.OutboundMessage
	running  bool
}

func (f *fakeChannel) Name() string { return f.name }
func (f *fakeChannel) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = f.startErr == nil
	return f.startErr
}
func (f *fakeChannel) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}
func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeChannel) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}
func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestManager_RoutesOutbound(t *testing.T) {
	b := bus.New(4)
	m := NewManager(b)
	a := &fakeChannel{name: "a"}
	m.RegisterChannel(a)
	m.RegisterChannel(&fakeChannel{name: "broken", startErr: errors.New("no token")})

	require.NoError(t, m.StartAll(context.Background()))
	assert.Equal(t, []string{"a", "broken"}, m.EnabledChannels())
	assert.Equal(t, map[string]bool{"a": true, "broken": false}, m.Status())

	ctx := context.Background()
	require.True(t, b.PublishOutbound(ctx, bus.OutboundMessage{Channel: "nowhere", Content: "x"}))
	require.True(t, b.PublishOutbound(ctx, bus.OutboundMessage{Channel: "a", ChatID: "c", Content: "hi"}))
	require.Eventually(t, func() bool { return a.sentCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.SendToChannel(ctx, "a", "c", "direct"))
	assert.Error(t, m.SendToChannel(ctx, "nowhere", "c", "x"))

	require.NoError(t, m.StopAll(ctx))
	assert.False(t, a.IsRunning())
}

func TestManager_FailsWhenNothingStarts(t *testing.T) {
	m := NewManager(bus.New(1))
	m.RegisterChannel(&fakeChannel{name: "broken", startErr: errors.New("boom")})
	assert.Error(t, m.StartAll(context.Background()))
	require.NoError(t, m.StopAll(context.Background()))
}
