package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/autoreply/internal/catalog"
	"github.com/nextlevelbuilder/autoreply/internal/providers"
	"github.com/nextlevelbuilder/autoreply/internal/sessions"
	"github.com/nextlevelbuilder/autoreply/internal/store"
)

// ErrConfiguration marks accounts with AI disabled or no credentials.
var ErrConfiguration = errors.New("reply: ai disabled or credentials missing")

var errNoBackend = errors.New("reply: no backend available")

// Reason explains an Outcome.
type Reason string

const (
	ReasonReplied   Reason = "replied"
	ReasonDisabled  Reason = "disabled"
	ReasonInvalid   Reason = "invalid"
	ReasonStale     Reason = "stale"
	ReasonDuplicate Reason = SuppressDuplicate
	ReasonThrottled Reason = SuppressThrottled
	ReasonNoReply   Reason = "no_reply"
)

// Source says where a delivered reply came from.
type Source string

const (
	SourceFixed     Source = "fixed"
	SourceGenerated Source = "generated"
	SourceFallback  Source = "fallback"
)

// Inbound is one buyer message as handed over by a transport.
type Inbound struct {
	AccountID     string
	Channel       string
	ChatID        string
	CounterpartID string
	ItemID        string
	Text          string
	SentAt        time.Time // zero skips the staleness check
}

// Outcome is the result of one pipeline run. Every run ends in an Outcome;
// Delivered is false for every kind of no-reply.
type Outcome struct {
	ConversationID string
	Reply          string
	Delivered      bool
	Reason         Reason
	Source         Source
	Intent         string
	Confidence     float64
	Previous       string // cached reply when suppressed as duplicate
	Err            error  // configuration or generation error, for diagnostics only
}

// Config holds the pipeline limits.
type Config struct {
	ContextTTL     time.Duration
	HistoryCap     int
	PromptHistory  int
	DedupWindow    time.Duration
	ThrottleWindow time.Duration
	ThrottleCap    int
	StaleAfter     time.Duration
	BackendTimeout time.Duration
	MaxTokens      int
}

// SettingsReader reads per-account settings. It is consulted on every message.
type SettingsReader interface {
	GetSettings(ctx context.Context, accountID string) (store.AISettings, error)
}

// ItemResolver returns catalog info for an item. It never fails.
type ItemResolver interface {
	Get(ctx context.Context, accountID, itemID string) catalog.ItemInfo
}

// BackendResolver hands out the per-account backend handle.
type BackendResolver interface {
	Get(accountID string, creds providers.Credentials) (providers.Backend, error)
}

type backendInvalidator interface {
	Invalidate(accountID string)
	InvalidateAll()
}

// Deps are the collaborators of a Coordinator. Items may be nil.
type Deps struct {
	Settings      SettingsReader
	Conversations store.ConversationStore
	Items         ItemResolver
	Backends      BackendResolver
	Policy        *PolicyConfig
	Prompts       *PromptSet
}

// Coordinator runs the reply pipeline and owns all of its state.
type Coordinator struct {
	cfg      Config
	settings SettingsReader
	items    ItemResolver
	backends BackendResolver

	filter     *MessageFilter
	classifier *IntentClassifier
	contexts   *ContextStore
	policy     *ReplyPolicy
	gate       *QualityGate
	dedup      *DedupAndThrottle
	convs      *convLocks

	tracer trace.Tracer
	now    func() time.Time
}

func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = providers.DefaultTimeout
	}
	prompts := deps.Prompts
	if prompts == nil {
		prompts = NewPromptSet("")
	}
	return &Coordinator{
		cfg:        cfg,
		settings:   deps.Settings,
		items:      deps.Items,
		backends:   deps.Backends,
		filter:     NewMessageFilter(deps.Policy.Denylist),
		classifier: NewIntentClassifier(deps.Policy, prompts),
		contexts:   NewContextStore(deps.Conversations, cfg.ContextTTL, cfg.HistoryCap),
		policy:     NewReplyPolicy(deps.Policy, prompts, cfg.MaxTokens, cfg.PromptHistory),
		gate:       NewQualityGate(deps.Policy, prompts),
		dedup:      NewDedupAndThrottle(deps.Conversations, cfg.DedupWindow, cfg.ThrottleWindow, cfg.ThrottleCap),
		convs:      newConvLocks(),
		tracer:     otel.Tracer("github.com/nextlevelbuilder/autoreply/internal/reply"),
		now:        time.Now,
	}
}

func (c *Coordinator) setClock(now func() time.Time) {
	c.now = now
	c.contexts.now = now
	c.dedup.now = now
}

// Contexts exposes the context store (diagnostics).
func (c *Coordinator) Contexts() *ContextStore { return c.contexts }

// InvalidateAccount drops cached backend handles after a settings change.
func (c *Coordinator) InvalidateAccount(accountID string) {
	if inv, ok := c.backends.(backendInvalidator); ok {
		inv.Invalidate(accountID)
	}
}

// Close releases every cached backend handle.
func (c *Coordinator) Close() {
	if inv, ok := c.backends.(backendInvalidator); ok {
		inv.InvalidateAll()
	}
}

// Reply runs one message through the pipeline. It never returns an error
// and never panics; every path ends in an Outcome.
func (c *Coordinator) Reply(ctx context.Context, msg Inbound) (out Outcome) {
	ctx, span := c.tracer.Start(ctx, "reply.message", trace.WithAttributes(
		attribute.String("account.id", msg.AccountID),
		attribute.String("channel", msg.Channel),
	))
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("reply: pipeline panic", "account", msg.AccountID, "panic", r)
			out = Outcome{ConversationID: out.ConversationID, Reason: ReasonNoReply, Err: fmt.Errorf("reply: panic: %v", r)}
		}
		span.SetAttributes(attribute.String("reply.reason", string(out.Reason)), attribute.String("reply.intent", out.Intent))
		span.End()
	}()

	convID := sessions.BuildConversationKey(msg.AccountID, msg.Channel, msg.ChatID, msg.CounterpartID)
	out.ConversationID = convID

	if !c.filter.IsValid(msg.Text) {
		slog.Debug("reply: message filtered", "conversation", convID)
		out.Reason = ReasonInvalid
		return out
	}

	settings, err := c.settings.GetSettings(ctx, msg.AccountID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("reply: settings read failed", "account", msg.AccountID, "error", err)
	}
	if err != nil || !settings.Configured() {
		slog.Debug("reply: ai not configured", "account", msg.AccountID)
		out.Reason, out.Err = ReasonDisabled, ErrConfiguration
		return out
	}
	if c.cfg.StaleAfter > 0 && !msg.SentAt.IsZero() && c.now().Sub(msg.SentAt) > c.cfg.StaleAfter {
		slog.Debug("reply: stale message skipped", "conversation", convID, "sent_at", msg.SentAt)
		out.Reason = ReasonStale
		return out
	}

	// Suppression checks and the turns they count must not interleave
	// with another run on the same conversation.
	unlock := c.convs.lock(convID)
	defer unlock()

	if v := c.dedup.Check(ctx, convID, msg.CounterpartID, msg.Text); v.Suppress {
		slog.Debug("reply: suppressed", "conversation", convID, "reason", v.Reason)
		out.Reason, out.Previous = Reason(v.Reason), v.Previous
		return out
	}

	backend := c.backend(msg.AccountID, settings)

	cls := c.classify(ctx, msg.Text, backend)
	out.Intent, out.Confidence = cls.Intent, cls.Confidence

	item := catalog.Placeholder(msg.AccountID, msg.ItemID)
	if c.items != nil && msg.ItemID != "" {
		item = c.items.Get(ctx, msg.AccountID, msg.ItemID)
	}

	in := PolicyInput{
		ConversationID: convID,
		Text:           msg.Text,
		Intent:         cls.Intent,
		Item:           item,
		Context:        c.contexts.Get(ctx, convID),
		OnlyAIReply:    settings.OnlyAIReply,
	}
	decision := c.policy.Decide(in)

	var text string
	if decision.IsFixed() {
		text, out.Source = decision.Fixed, SourceFixed
	} else {
		text, out.Source, out.Err = c.generate(ctx, in, *decision.Request, backend, settings.QualityCheckEnabled)
	}

	c.contexts.Append(ctx, convID, store.Turn{
		AccountID:     msg.AccountID,
		CounterpartID: msg.CounterpartID,
		ItemID:        msg.ItemID,
		Role:          store.RoleUser,
		Content:       msg.Text,
		Intent:        cls.Intent,
	})

	if text == "" {
		out.Reason, out.Source = ReasonNoReply, ""
		return out
	}

	c.contexts.Append(ctx, convID, store.Turn{
		AccountID:     msg.AccountID,
		CounterpartID: msg.CounterpartID,
		ItemID:        msg.ItemID,
		Role:          store.RoleAssistant,
		Content:       text,
		Intent:        cls.Intent,
	})
	c.dedup.Remember(ctx, convID, msg.CounterpartID, msg.Text, text)

	out.Reply, out.Delivered, out.Reason = text, true, ReasonReplied
	slog.Info("reply: replied", "conversation", convID, "intent", out.Intent, "source", out.Source)
	return out
}

func (c *Coordinator) backend(accountID string, s store.AISettings) providers.Backend {
	if c.backends == nil {
		return nil
	}
	b, err := c.backends.Get(accountID, providers.Credentials{
		APIKey:  s.APIKey,
		BaseURL: s.BaseURL,
		Model:   s.ModelName,
		Kind:    providers.ParseKind(s.BackendKind),
	})
	if err != nil {
		slog.Warn("reply: backend unavailable", "account", accountID, "key", providers.MaskKey(s.APIKey), "error", err)
		return nil
	}
	return b
}

func (c *Coordinator) classify(ctx context.Context, text string, backend providers.Backend) Classification {
	ctx, span := c.tracer.Start(ctx, "reply.classify")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.BackendTimeout)
	defer cancel()

	cls := c.classifier.Classify(ctx, text, backend)
	span.SetAttributes(
		attribute.String("intent", cls.Intent),
		attribute.Float64("confidence", cls.Confidence),
		attribute.String("source", cls.Source),
	)
	return cls
}

// generate calls the backend and gates the result. Failures and rejections
// fall back to the policy's fixed/template reply, which may be empty.
func (c *Coordinator) generate(ctx context.Context, in PolicyInput, req providers.CompletionRequest, backend providers.Backend, scoring bool) (string, Source, error) {
	ctx, span := c.tracer.Start(ctx, "reply.generate", trace.WithAttributes(
		attribute.String("intent", in.Intent),
		attribute.Float64("temperature", req.Temperature),
	))
	defer span.End()

	fallback := func(err error) (string, Source, error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if fb := c.policy.Fallback(in); fb != "" {
			return fb, SourceFallback, err
		}
		return "", "", err
	}

	if backend == nil {
		return fallback(errNoBackend)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.BackendTimeout)
	text, err := backend.Complete(callCtx, req)
	cancel()
	if err != nil {
		slog.Warn("reply: generation failed", "conversation", in.ConversationID, "backend", backend.Name(),
			"timeout", providers.IsTimeout(err), "error", err)
		return fallback(fmt.Errorf("reply: generate: %w", err))
	}

	var scorer providers.Backend
	if scoring {
		scorer = backend
	}
	gateCtx, cancel := context.WithTimeout(ctx, c.cfg.BackendTimeout)
	defer cancel()
	if !c.gate.Accept(gateCtx, QualityInput{Title: in.Item.DisplayTitle(), Message: in.Text, Reply: text}, scorer) {
		span.SetAttributes(attribute.Bool("quality.rejected", true))
		return fallback(nil)
	}
	return text, SourceGenerated, nil
}
