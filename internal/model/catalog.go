package model

import (
	"strings"
	"time"
)

// CategoryPath is a hierarchical category, broadest level first
type CategoryPath []string

func (p CategoryPath) Leaf() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

func (p CategoryPath) String() string {
	return strings.Join(p, ">")
}

// ParseCategoryPath splits a ">" joined path, dropping empty levels
func ParseCategoryPath(s string) CategoryPath {
	var out CategoryPath
	for _, part := range strings.Split(s, ">") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Category maps a full category path to its catalog id
type Category struct {
	Path      string    `bson:"path" json:"path"`
	CatalogID string    `bson:"catalog_id" json:"catalogId"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// CategoryKeyword is a candidate keyword associated with a catalog id
type CategoryKeyword struct {
	CatalogID    string    `bson:"catalog_id" json:"catalogId"`
	Keyword      string    `bson:"keyword" json:"keyword"`
	SellerCount  int64     `bson:"seller_count" json:"sellerCount"`
	PCVolume     int64     `bson:"pc_volume" json:"pcVolume"`
	MobileVolume int64     `bson:"mobile_volume" json:"mobileVolume"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updatedAt"`
}

// Rank is the ordered list of top keywords recorded for a catalog id
type Rank struct {
	CatalogID   string    `bson:"catalog_id" json:"catalogId"`
	Category    string    `bson:"category" json:"category"`
	RankKeyword string    `bson:"rank_keyword" json:"rankKeyword"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updatedAt"`
}

// TotalVolume is the combined monthly desktop and mobile search volume
func (k CategoryKeyword) TotalVolume() int64 {
	return k.PCVolume + k.MobileVolume
}
