// Package dispatch runs the reply pipeline behind the transport boundary:
// one sequential worker per account, replies published to the bus.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/reply"
)

const defaultQueueSize = 64

// ErrNotRunning is reported by Submit when Run is not active.
var ErrNotRunning = errors.New("dispatch: router not running")

// Replier runs one message through the reply pipeline.
type Replier interface {
	Reply(ctx context.Context, msg reply.Inbound) reply.Outcome
}

// Router implements channels.ReplyStrategy. Messages of one account are
// handled strictly in arrival order; accounts proceed in parallel.
type Router struct {
	replier   Replier
	out       bus.OutboundRouter
	queueSize int

	mu      sync.Mutex
	ctx     context.Context
	group   *errgroup.Group
	queues  map[string]chan bus.InboundMessage
	closed  bool
	counts  map[reply.Reason]int64
	onReply func(bus.InboundMessage, reply.Outcome)
}

// NewRouter creates a router. queueSize <= 0 uses the default per-account buffer.
func NewRouter(replier Replier, out bus.OutboundRouter, queueSize int) *Router {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Router{
		replier:   replier,
		out:       out,
		queueSize: queueSize,
		queues:    make(map[string]chan bus.InboundMessage),
		counts:    make(map[reply.Reason]int64),
	}
}

// OnOutcome registers a hook called after every pipeline run. Set it before Run.
func (r *Router) OnOutcome(fn func(bus.InboundMessage, reply.Outcome)) { r.onReply = fn }

// Run serves workers until ctx is done, then waits for them to finish the
// message in hand.
func (r *Router) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	r.mu.Lock()
	if r.group != nil || r.closed {
		r.mu.Unlock()
		return errors.New("dispatch: router already started")
	}
	r.ctx, r.group = gctx, g
	r.mu.Unlock()

	slog.Info("dispatch: router started")
	<-gctx.Done()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	err := g.Wait()
	slog.Info("dispatch: router stopped", "accounts", r.accounts())
	return err
}

// OnMessage queues msg on its account's worker, blocking while the queue
// is full. Messages arriving while the router is not running are dropped.
func (r *Router) OnMessage(ctx context.Context, msg bus.InboundMessage) {
	if err := r.Submit(ctx, msg); err != nil {
		slog.Warn("dispatch: message dropped", "account", msg.AccountID, "sender_id", msg.SenderID, "error", err)
	}
}

// Submit is OnMessage with the error reported.
func (r *Router) Submit(ctx context.Context, msg bus.InboundMessage) error {
	r.mu.Lock()
	if r.group == nil || r.closed {
		r.mu.Unlock()
		return ErrNotRunning
	}
	runCtx := r.ctx
	q, ok := r.queues[msg.AccountID]
	if !ok {
		q = make(chan bus.InboundMessage, r.queueSize)
		r.queues[msg.AccountID] = q
		account := msg.AccountID
		r.group.Go(func() error {
			r.worker(runCtx, account, q)
			return nil
		})
	}
	r.mu.Unlock()

	select {
	case q <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-runCtx.Done():
		return ErrNotRunning
	}
}

func (r *Router) worker(ctx context.Context, account string, q <-chan bus.InboundMessage) {
	slog.Debug("dispatch: worker started", "account", account)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q:
			r.handle(ctx, msg)
		}
	}
}

func (r *Router) handle(ctx context.Context, msg bus.InboundMessage) {
	out := r.replier.Reply(ctx, reply.Inbound{
		AccountID:     msg.AccountID,
		Channel:       msg.Channel,
		ChatID:        msg.ChatID,
		CounterpartID: msg.SenderID,
		ItemID:        msg.ItemID,
		Text:          msg.Content,
		SentAt:        msg.SentAt,
	})

	r.mu.Lock()
	r.counts[out.Reason]++
	hook := r.onReply
	r.mu.Unlock()

	if hook != nil {
		hook(msg, out)
	}
	if !out.Delivered {
		slog.Debug("dispatch: no reply", "conversation", out.ConversationID, "reason", out.Reason)
		return
	}

	meta := map[string]string{
		bus.MetaIntent: out.Intent,
		bus.MetaSource: string(out.Source),
	}
	if id := msg.Metadata[bus.MetaMessageID]; id != "" {
		meta[bus.MetaMessageID] = id
	}
	r.out.PublishOutbound(ctx, bus.OutboundMessage{
		Channel:   msg.Channel,
		AccountID: msg.AccountID,
		ChatID:    msg.ChatID,
		Content:   out.Reply,
		Metadata:  meta,
	})
}

// Counts returns how many pipeline runs ended with each reason.
func (r *Router) Counts() map[reply.Reason]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[reply.Reason]int64, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

func (r *Router) accounts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues)
}
