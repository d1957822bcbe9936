package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/providers"
	"github.com/nextlevelbuilder/autoreply/internal/store"
)

// BackendSource hands out the cached backend for an account.
type BackendSource interface {
	Get(accountID string, creds providers.Credentials) (providers.Backend, error)
}

// Invalidator drops cached backend handles after a settings change.
type Invalidator interface {
	InvalidateAccount(accountID string)
}

// AccountsHandler serves per-account AI settings.
type AccountsHandler struct {
	settings    store.SettingsStore
	backends    BackendSource
	invalidator Invalidator
	token       string
	verifyAfter time.Duration
}

// NewAccountsHandler creates a handler for the account settings endpoints.
func NewAccountsHandler(s store.SettingsStore, backends BackendSource, inv Invalidator, token string) *AccountsHandler {
	return &AccountsHandler{settings: s, backends: backends, invalidator: inv, token: token, verifyAfter: 15 * time.Second}
}

// RegisterRoutes registers the account routes on mux.
func (h *AccountsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/accounts", RequireToken(h.token, h.handleList))
	mux.HandleFunc("GET /v1/accounts/{id}/settings", RequireToken(h.token, h.handleGet))
	mux.HandleFunc("PUT /v1/accounts/{id}/settings", RequireToken(h.token, h.handleUpdate))
	mux.HandleFunc("POST /v1/accounts/{id}/verify", RequireToken(h.token, h.handleVerify))
}

// settingsView is AISettings with the key masked.
type settingsView struct {
	store.AISettings
	APIKey string `json:"api_key"`
}

func maskSettings(s store.AISettings) settingsView {
	v := settingsView{AISettings: s}
	if s.APIKey != "" {
		v.APIKey = providers.MaskKey(s.APIKey)
	}
	return v
}

// settingsPatch carries only the fields a caller wants changed.
type settingsPatch struct {
	AIEnabled           *bool   `json:"ai_enabled"`
	APIKey              *string `json:"api_key"`
	BaseURL             *string `json:"base_url"`
	ModelName           *string `json:"model_name"`
	BackendKind         *string `json:"backend_kind"`
	OnlyAIReply         *bool   `json:"only_ai_reply"`
	QualityCheckEnabled *bool   `json:"quality_check_enabled"`
}

func (p settingsPatch) apply(s *store.AISettings) {
	if p.AIEnabled != nil {
		s.AIEnabled = *p.AIEnabled
	}
	if p.APIKey != nil {
		s.APIKey = strings.TrimSpace(*p.APIKey)
	}
	if p.BaseURL != nil {
		s.BaseURL = strings.TrimSpace(*p.BaseURL)
	}
	if p.ModelName != nil {
		s.ModelName = strings.TrimSpace(*p.ModelName)
	}
	if p.BackendKind != nil {
		s.BackendKind = *p.BackendKind
	}
	if p.OnlyAIReply != nil {
		s.OnlyAIReply = *p.OnlyAIReply
	}
	if p.QualityCheckEnabled != nil {
		s.QualityCheckEnabled = *p.QualityCheckEnabled
	}
}

func (h *AccountsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	all, err := h.settings.ListSettings(r.Context())
	if err != nil {
		slog.Error("accounts.list", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	out := make([]settingsView, 0, len(all))
	for _, s := range all {
		out = append(out, maskSettings(s))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": out})
}

func (h *AccountsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.GetSettings(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		slog.Error("accounts.get", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, maskSettings(s))
}

// handleUpdate merges the patch into the stored settings, creating them with
// defaults for a new account.
func (h *AccountsHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var patch settingsPatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if patch.BackendKind != nil && string(providers.ParseKind(*patch.BackendKind)) != *patch.BackendKind {
		writeError(w, http.StatusBadRequest, "backend_kind must be auto, chat or app")
		return
	}

	cur, err := h.settings.GetSettings(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		cur = store.DefaultAISettings(id)
	} else if err != nil {
		slog.Error("accounts.update", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	patch.apply(&cur)

	if err := h.settings.SaveSettings(r.Context(), cur); err != nil {
		slog.Error("accounts.update", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	if h.invalidator != nil {
		h.invalidator.InvalidateAccount(id)
	}
	slog.Info("accounts: settings updated", "account", id, "ai_enabled", cur.AIEnabled, "key", providers.MaskKey(cur.APIKey))
	writeJSON(w, http.StatusOK, maskSettings(cur))
}

// handleVerify sends a one-token completion with the account's credentials.
//
//	POST /v1/accounts/{id}/verify
//	Response: {"valid": true} or {"valid": false, "error": "..."}
func (h *AccountsHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, err := h.settings.GetSettings(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if s.APIKey == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"valid": false, "error": "no API key configured"})
		return
	}

	b, err := h.backends.Get(id, providers.Credentials{
		APIKey:  s.APIKey,
		BaseURL: s.BaseURL,
		Model:   s.ModelName,
		Kind:    providers.ParseKind(s.BackendKind),
	})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"valid": false, "error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.verifyAfter)
	defer cancel()
	if _, err := b.Complete(ctx, providers.CompletionRequest{UserContent: "hi", MaxTokens: 1}); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"valid": false, "kind": b.Kind(), "error": friendlyVerifyError(err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "kind": b.Kind()})
}
