// Package catalog resolves the commerce item a conversation is about.
package catalog

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/store"
)

// Placeholders rendered for fields the catalog could not supply.
const (
	UnknownTitle       = "未知商品"
	UnknownPrice       = "面议"
	UnknownDescription = "暂无描述"
	UnknownCategory    = "未知分类"
	UnknownArea        = "位置未知"
	UnknownSeller      = "匿名卖家"
	UnknownStatus      = "未知状态"
	UnknownList        = "无"
)

// Origin records where an ItemInfo came from.
type Origin string

const (
	OriginMemory      Origin = "memory"
	OriginStore       Origin = "store"
	OriginSource      Origin = "source"
	OriginStale       Origin = "stale"
	OriginPlaceholder Origin = "placeholder"
)

// ItemInfo is a catalog snapshot. Empty fields are unknown.
type ItemInfo struct {
	AccountID   string            `json:"account_id"`
	ItemID      string            `json:"item_id"`
	Title       string            `json:"title,omitempty"`
	Price       string            `json:"price,omitempty"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	Area        string            `json:"area,omitempty"`
	SellerName  string            `json:"seller_name,omitempty"`
	Status      string            `json:"status,omitempty"`
	Attributes  []store.Attribute `json:"attributes,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Images      []string          `json:"images,omitempty"`
	FetchedAt   time.Time         `json:"fetched_at"`
	Origin      Origin            `json:"origin,omitempty"`
}

// Source fetches item details from the commerce platform.
type Source interface {
	FetchItem(ctx context.Context, accountID, itemID string) (ItemInfo, error)
}

// Placeholder returns an all-unknown record for itemID.
func Placeholder(accountID, itemID string) ItemInfo {
	return ItemInfo{AccountID: accountID, ItemID: itemID, Origin: OriginPlaceholder}
}

// PriceKnown reports whether a concrete price is available.
func (i ItemInfo) PriceKnown() bool { return i.Price != "" }

// AreaKnown reports whether a usage area is available.
func (i ItemInfo) AreaKnown() bool { return i.Area != "" }

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func (i ItemInfo) DisplayTitle() string       { return orDefault(i.Title, UnknownTitle) }
func (i ItemInfo) DisplayPrice() string       { return orDefault(i.Price, UnknownPrice) }
func (i ItemInfo) DisplayDescription() string { return orDefault(i.Description, UnknownDescription) }
func (i ItemInfo) DisplayCategory() string    { return orDefault(i.Category, UnknownCategory) }
func (i ItemInfo) DisplayArea() string        { return orDefault(i.Area, UnknownArea) }
func (i ItemInfo) DisplaySeller() string      { return orDefault(i.SellerName, UnknownSeller) }
func (i ItemInfo) DisplayStatus() string      { return orDefault(i.Status, UnknownStatus) }

// DisplayAttributes renders attributes as "name:value" pairs, in order.
func (i ItemInfo) DisplayAttributes() string {
	if len(i.Attributes) == 0 {
		return UnknownList
	}
	parts := make([]string, 0, len(i.Attributes))
	for _, a := range i.Attributes {
		switch {
		case a.Name != "" && a.Value != "":
			parts = append(parts, a.Name+":"+a.Value)
		case a.Value != "":
			parts = append(parts, a.Value)
		case a.Name != "":
			parts = append(parts, a.Name)
		}
	}
	if len(parts) == 0 {
		return UnknownList
	}
	return strings.Join(parts, ", ")
}

// DisplayTags renders tags comma separated.
func (i ItemInfo) DisplayTags() string {
	if len(i.Tags) == 0 {
		return UnknownList
	}
	return strings.Join(i.Tags, ", ")
}

// NormalizePrice returns a display price: numeric values gain a ¥ prefix,
// empty or zero values become "" (unknown).
func NormalizePrice(raw string) string {
	p := strings.TrimSpace(raw)
	p = strings.TrimSuffix(p, "元")
	if p == "" {
		return ""
	}
	if strings.HasPrefix(p, "¥") || strings.HasPrefix(p, "￥") {
		num := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(p, "¥"), "￥"))
		if isZero(num) {
			return ""
		}
		return "¥" + num
	}
	if _, err := strconv.ParseFloat(p, 64); err == nil {
		if isZero(p) {
			return ""
		}
		return "¥" + p
	}
	if p == UnknownPrice {
		return ""
	}
	return p
}

func isZero(s string) bool {
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && f == 0
}

func fromSnapshot(s *store.ItemSnapshot, origin Origin) ItemInfo {
	return ItemInfo{
		AccountID:   s.AccountID,
		ItemID:      s.ItemID,
		Title:       s.Title,
		Price:       s.Price,
		Description: s.Description,
		Category:    s.Category,
		Area:        s.Area,
		SellerName:  s.SellerName,
		Status:      s.Status,
		Attributes:  s.Attributes,
		Tags:        s.Tags,
		Images:      s.Images,
		FetchedAt:   s.FetchedAt,
		Origin:      origin,
	}
}

func toSnapshot(i ItemInfo) store.ItemSnapshot {
	return store.ItemSnapshot{
		AccountID:   i.AccountID,
		ItemID:      i.ItemID,
		Title:       i.Title,
		Price:       i.Price,
		Description: i.Description,
		Category:    i.Category,
		Area:        i.Area,
		SellerName:  i.SellerName,
		Status:      i.Status,
		Attributes:  i.Attributes,
		Tags:        i.Tags,
		Images:      i.Images,
		FetchedAt:   i.FetchedAt,
	}
}
