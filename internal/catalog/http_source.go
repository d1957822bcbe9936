package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/store"
)

// HTTPSource fetches items from a JSON endpoint. The URL template may contain
// {account} and {item}, both path-escaped on substitution.
type HTTPSource struct {
	urlTemplate string
	token       string
	client      *http.Client
}

// NewHTTPSource creates a source. timeout <= 0 uses 10s.
func NewHTTPSource(urlTemplate, token string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		urlTemplate: urlTemplate,
		token:       token,
		client:      &http.Client{Timeout: timeout},
	}
}

type itemPayload struct {
	Title       string            `json:"title"`
	Price       json.RawMessage   `json:"price"`
	Description string            `json:"description"`
	Desc        string            `json:"desc"`
	Category    string            `json:"category"`
	Area        string            `json:"area"`
	SellerName  string            `json:"seller_name"`
	Status      string            `json:"status"`
	Attributes  []store.Attribute `json:"attributes"`
	Tags        []string          `json:"tags"`
	Images      []string          `json:"images"`
}

func (s *HTTPSource) FetchItem(ctx context.Context, accountID, itemID string) (ItemInfo, error) {
	u := strings.NewReplacer(
		"{account}", url.PathEscape(accountID),
		"{item}", url.PathEscape(itemID),
	).Replace(s.urlTemplate)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ItemInfo{}, fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return ItemInfo{}, fmt.Errorf("catalog: fetch %s: %w", itemID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ItemInfo{}, fmt.Errorf("catalog: read %s: %w", itemID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return ItemInfo{}, fmt.Errorf("catalog: fetch %s: status %d: %s", itemID, resp.StatusCode, truncate(string(body), 200))
	}

	var p itemPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return ItemInfo{}, fmt.Errorf("catalog: decode %s: %w", itemID, err)
	}
	desc := p.Description
	if desc == "" {
		desc = p.Desc
	}
	return ItemInfo{
		AccountID:   accountID,
		ItemID:      itemID,
		Title:       p.Title,
		Price:       rawPrice(p.Price),
		Description: desc,
		Category:    p.Category,
		Area:        p.Area,
		SellerName:  p.SellerName,
		Status:      p.Status,
		Attributes:  p.Attributes,
		Tags:        p.Tags,
		Images:      p.Images,
	}, nil
}

// rawPrice accepts a JSON string or number.
func rawPrice(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
