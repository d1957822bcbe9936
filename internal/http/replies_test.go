package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/autoreply/internal/catalog"
	"github.com/nextlevelbuilder/autoreply/internal/reply"
)

type recordingReplier struct {
	got []reply.Inbound
	out reply.Outcome
}

func (r *recordingReplier) Reply(_ context.Context, msg reply.Inbound) reply.Outcome {
	r.got = append(r.got, msg)
	return r.out
}

type staticItems struct{}

func (staticItems) Get(_ context.Context, account, item string) catalog.ItemInfo {
	return catalog.ItemInfo{AccountID: account, ItemID: item, Title: "咖啡券", Price: "¥9.9"}
}

func TestReplies_RunsPipeline(t *testing.T) {
	replier := &recordingReplier{out: reply.Outcome{
		ConversationID: "conv:a:admin:buyer:buyer",
		Reply:          "¥9.9，不议价",
		Delivered:      true,
		Reason:         reply.ReasonReplied,
		Source:         reply.SourceFixed,
		Intent:         reply.IntentPrice,
		Confidence:     1,
	}}
	mux := http.NewServeMux()
	NewRepliesHandler(replier, staticItems{}, "").RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/replies", "", `{"account_id":"a","sender_id":"buyer","item_id":" 42 ","content":"多少钱"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["delivered"])
	assert.Equal(t, "fixed", body["source"])
	assert.Equal(t, "price", body["intent"])

	require.Len(t, replier.got, 1)
	in := replier.got[0]
	assert.Equal(t, "buyer", in.ChatID, "chat defaults to the sender")
	assert.Equal(t, "42", in.ItemID)
	assert.Equal(t, "admin", in.Channel)

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/replies", "", `{"content":"多少钱"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReplies_ItemLookup(t *testing.T) {
	mux := http.NewServeMux()
	NewRepliesHandler(&recordingReplier{}, staticItems{}, "t").RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/items/a/42", "t", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "咖啡券", body["title"])
	assert.Equal(t, "42", body["item_id"])
}
