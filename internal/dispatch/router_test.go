package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/reply"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// echoReplier replies to every message except "skip" and records the
// peak number of concurrent runs per account.
type echoReplier struct {
	mu       sync.Mutex
	inFlight map[string]int
	peak     map[string]int
	order    map[string][]string
	total    atomic.Int32
}

func newEchoReplier() *echoReplier {
	return &echoReplier{inFlight: map[string]int{}, peak: map[string]int{}, order: map[string][]string{}}
}

func (e *echoReplier) Reply(_ context.Context, msg reply.Inbound) reply.Outcome {
	e.mu.Lock()
	e.inFlight[msg.AccountID]++
	if e.inFlight[msg.AccountID] > e.peak[msg.AccountID] {
		e.peak[msg.AccountID] = e.inFlight[msg.AccountID]
	}
	e.order[msg.AccountID] = append(e.order[msg.AccountID], msg.Text)
	e.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	e.mu.Lock()
	e.inFlight[msg.AccountID]--
	e.mu.Unlock()
	e.total.Add(1)

	if msg.Text == "skip" {
		return reply.Outcome{Reason: reply.ReasonInvalid}
	}
	return reply.Outcome{Reply: "re:" + msg.Text, Delivered: true, Reason: reply.ReasonReplied, Source: reply.SourceFixed, Intent: "price"}
}

func startRouter(t *testing.T, r *Router) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.group != nil
	}, time.Second, time.Millisecond)
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestRouter_SequentialPerAccount(t *testing.T) {
	rep := newEchoReplier()
	b := bus.New(64)
	r := NewRouter(rep, b, 4)
	stop := startRouter(t, r)

	texts := []string{"1", "2", "3", "skip", "5"}
	var wg sync.WaitGroup
	for _, acct := range []string{"a", "b"} {
		wg.Add(1)
		go func(acct string) {
			defer wg.Done()
			for _, text := range texts {
				r.OnMessage(context.Background(), bus.InboundMessage{
					Channel: "stdio", AccountID: acct, SenderID: "u", ChatID: "c-" + acct, Content: text,
					Metadata: map[string]string{bus.MetaMessageID: acct + text},
				})
			}
		}(acct)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return rep.total.Load() == 10 }, 2*time.Second, 5*time.Millisecond)
	stop()

	rep.mu.Lock()
	assert.Equal(t, 1, rep.peak["a"])
	assert.Equal(t, 1, rep.peak["b"])
	assert.Equal(t, texts, rep.order["a"])
	rep.mu.Unlock()

	assert.Equal(t, 8, b.Pending())
	msg, ok := b.SubscribeOutbound(context.Background())
	require.True(t, ok)
	assert.Equal(t, "stdio", msg.Channel)
	assert.Contains(t, msg.Content, "re:")
	assert.Equal(t, "price", msg.Metadata[bus.MetaIntent])
	assert.Equal(t, "fixed", msg.Metadata[bus.MetaSource])
	assert.NotEmpty(t, msg.Metadata[bus.MetaMessageID])

	counts := r.Counts()
	assert.Equal(t, int64(8), counts[reply.ReasonReplied])
	assert.Equal(t, int64(2), counts[reply.ReasonInvalid])
}

func TestRouter_OutcomeHook(t *testing.T) {
	r := NewRouter(newEchoReplier(), bus.New(4), 0)
	got := make(chan reply.Outcome, 1)
	r.OnOutcome(func(_ bus.InboundMessage, out reply.Outcome) { got <- out })
	stop := startRouter(t, r)
	defer stop()

	require.NoError(t, r.Submit(context.Background(), bus.InboundMessage{AccountID: "a", SenderID: "u", Content: "hi"}))
	select {
	case out := <-got:
		assert.Equal(t, "re:hi", out.Reply)
	case <-time.After(2 * time.Second):
		t.Fatal("hook not called")
	}
}

func TestRouter_RejectsWhenNotRunning(t *testing.T) {
	r := NewRouter(newEchoReplier(), bus.New(1), 0)
	err := r.Submit(context.Background(), bus.InboundMessage{AccountID: "a", Content: "x"})
	assert.ErrorIs(t, err, ErrNotRunning)

	stop := startRouter(t, r)
	stop()
	err = r.Submit(context.Background(), bus.InboundMessage{AccountID: "a", Content: "x"})
	assert.ErrorIs(t, err, ErrNotRunning)

	assert.Error(t, r.Run(context.Background()), "a router runs once")
}
