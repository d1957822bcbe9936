package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/autoreply/internal/catalog"
	"github.com/nextlevelbuilder/autoreply/internal/reply"
)

// Replier runs one message through the pipeline.
type Replier interface {
	Reply(ctx context.Context, msg reply.Inbound) reply.Outcome
}

// ItemLookup resolves an item the way the pipeline does.
type ItemLookup interface {
	Get(ctx context.Context, accountID, itemID string) catalog.ItemInfo
}

// RepliesHandler serves pipeline diagnosis and item lookups.
type RepliesHandler struct {
	replier Replier
	items   ItemLookup
	token   string
}

func NewRepliesHandler(replier Replier, items ItemLookup, token string) *RepliesHandler {
	return &RepliesHandler{replier: replier, items: items, token: token}
}

func (h *RepliesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/replies", RequireToken(h.token, h.handleReply))
	mux.HandleFunc("GET /v1/items/{account}/{item}", RequireToken(h.token, h.handleItem))
}

type replyRequest struct {
	AccountID string `json:"account_id"`
	SenderID  string `json:"sender_id"`
	ChatID    string `json:"chat_id"`
	ItemID    string `json:"item_id"`
	Content   string `json:"content"`
}

// OutcomeView is the wire form of a reply.Outcome.
type OutcomeView struct {
	Conversation string  `json:"conversation"`
	Delivered    bool    `json:"delivered"`
	Reply        string  `json:"reply,omitempty"`
	Reason       string  `json:"reason"`
	Source       string  `json:"source,omitempty"`
	Intent       string  `json:"intent,omitempty"`
	Confidence   float64 `json:"confidence"`
	Previous     string  `json:"previous,omitempty"`
	Error        string  `json:"error,omitempty"`
}

func NewOutcomeView(out reply.Outcome) OutcomeView {
	v := OutcomeView{
		Conversation: out.ConversationID,
		Delivered:    out.Delivered,
		Reply:        out.Reply,
		Reason:       string(out.Reason),
		Source:       string(out.Source),
		Intent:       out.Intent,
		Confidence:   out.Confidence,
		Previous:     out.Previous,
	}
	if out.Err != nil {
		v.Error = out.Err.Error()
	}
	return v
}

// handleReply runs the pipeline synchronously; turns persist exactly as for
// channel traffic.
//
//	POST /v1/replies
//	Body: {"account_id": "...", "sender_id": "...", "content": "多少钱"}
func (h *RepliesHandler) handleReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.AccountID == "" || req.SenderID == "" {
		writeError(w, http.StatusBadRequest, "account_id and sender_id are required")
		return
	}
	if req.ChatID == "" {
		req.ChatID = req.SenderID
	}

	out := h.replier.Reply(r.Context(), reply.Inbound{
		AccountID:     req.AccountID,
		Channel:       "admin",
		ChatID:        req.ChatID,
		CounterpartID: req.SenderID,
		ItemID:        strings.TrimSpace(req.ItemID),
		Text:          req.Content,
	})
	writeJSON(w, http.StatusOK, NewOutcomeView(out))
}

func (h *RepliesHandler) handleItem(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.items.Get(r.Context(), r.PathValue("account"), r.PathValue("item")))
}
