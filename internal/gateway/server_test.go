package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/config"
	"github.com/nextlevelbuilder/autoreply/internal/reply"
)

func newTestServer(t *testing.T, cfg config.AdminConfig) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(cfg, "test")
	s.SetStats(func() map[string]int64 { return map[string]int64{"replied": 2} })
	srv := httptest.NewServer(s.BuildMux())
	t.Cleanup(srv.Close)
	return s, srv
}

func TestHealth(t *testing.T) {
	_, srv := newTestServer(t, config.AdminConfig{})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Status   string           `json:"status"`
		Version  string           `json:"version"`
		Outcomes map[string]int64 `json:"outcomes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "test", body.Version)
	assert.Equal(t, int64(2), body.Outcomes["replied"])
}

func TestEvents_RequireToken(t *testing.T) {
	_, srv := newTestServer(t, config.AdminConfig{Token: "tok"})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEvents_BroadcastsOutcomes(t *testing.T) {
	s, srv := newTestServer(t, config.AdminConfig{Token: "tok"})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer tok"}})
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.PublishOutcome(
		bus.InboundMessage{Channel: "stdio", AccountID: "a", SenderID: "u", ChatID: "c", Content: "多少钱"},
		reply.Outcome{Delivered: true, Reply: "¥9.9", Reason: reply.ReasonReplied, Source: reply.SourceFixed},
	)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev OutcomeEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "reply.outcome", ev.Type)
	assert.Equal(t, "a", ev.AccountID)
	assert.Equal(t, "多少钱", ev.Message)
	assert.True(t, ev.Outcome.Delivered)
	assert.Equal(t, "fixed", ev.Outcome.Source)

	conn.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	s := NewServer(config.AdminConfig{AllowedOrigins: []string{"https://ops.example"}}, "test")
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	assert.True(t, s.checkOrigin(req), "non-browser clients carry no origin")

	req.Header.Set("Origin", "https://ops.example")
	assert.True(t, s.checkOrigin(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, s.checkOrigin(req))
}

func TestServe_StopsOnCancel(t *testing.T) {
	s := NewServer(config.AdminConfig{}, "test")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
