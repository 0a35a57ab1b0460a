package catalog

import (
	"context"
	"errors"
	"keywords/internal/model"
	"keywords/pkg/searchad"
	"testing"
)

type keywordSourceFunc func(ctx context.Context, seed string) ([]searchad.RelatedKeyword, error)

func (f keywordSourceFunc) RelatedKeywords(ctx context.Context, seed string) ([]searchad.RelatedKeyword, error) {
	return f(ctx, seed)
}

type sellerCounterFunc func(ctx context.Context, keyword string) (int64, error)

func (f sellerCounterFunc) SellerCount(ctx context.Context, keyword string) (int64, error) {
	return f(ctx, keyword)
}

type memoryStore struct {
	categories []model.Category
	keywords   []model.CategoryKeyword
	ranks      []model.Rank
	batches    int
}

func (m *memoryStore) UpsertCategory(ctx context.Context, category model.Category) error {
	m.categories = append(m.categories, category)
	return nil
}

func (m *memoryStore) UpsertCategoryKeywords(ctx context.Context, keywords []model.CategoryKeyword) error {
	m.batches++
	m.keywords = append(m.keywords, keywords...)
	return nil
}

func (m *memoryStore) UpsertRank(ctx context.Context, rank model.Rank) error {
	m.ranks = append(m.ranks, rank)
	return nil
}

func TestRefresh(t *testing.T) {
	var seeds []string
	source := keywordSourceFunc(func(ctx context.Context, seed string) ([]searchad.RelatedKeyword, error) {
		seeds = append(seeds, seed)
		return []searchad.RelatedKeyword{
			{Keyword: "linen shirt", PCVolume: 100, MobileVolume: 900},
			{Keyword: " ", PCVolume: 5},
			{Keyword: "shirt", PCVolume: 0, MobileVolume: 20},
			{Keyword: "broken", PCVolume: 1},
		}, nil
	})
	sellers := sellerCounterFunc(func(ctx context.Context, keyword string) (int64, error) {
		if keyword == "broken" {
			return 0, errors.New("upstream 500")
		}
		return int64(len(keyword)), nil
	})
	store := &memoryStore{}

	path := model.ParseCategoryPath("Fashion>Tops>shirt")
	result, err := NewRefresher(source, sellers, store, 0).Refresh(context.Background(), path, "50000830", nil)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if len(seeds) != 1 || seeds[0] != "shirt" {
		t.Errorf("seeds = %v, want the path leaf", seeds)
	}
	if result.Keywords != 2 || result.Skipped != 1 {
		t.Errorf("result = %+v", result)
	}
	if len(store.categories) != 1 || store.categories[0].Path != "Fashion>Tops>shirt" || store.categories[0].CatalogID != "50000830" {
		t.Errorf("categories = %+v", store.categories)
	}

	want := map[string]model.CategoryKeyword{
		"linen shirt": {CatalogID: "50000830", Keyword: "linen shirt", SellerCount: 11, PCVolume: 100, MobileVolume: 900},
		"shirt":       {CatalogID: "50000830", Keyword: "shirt", SellerCount: 5, MobileVolume: 20},
	}
	for _, k := range store.keywords {
		if k != want[k.Keyword] {
			t.Errorf("keyword %q = %+v, want %+v", k.Keyword, k, want[k.Keyword])
		}
	}

	wantRank := model.Rank{CatalogID: "50000830", Category: "shirt", RankKeyword: "linen shirt,shirt"}
	if len(store.ranks) != 1 || store.ranks[0] != wantRank {
		t.Errorf("ranks = %+v, want %+v", store.ranks, wantRank)
	}
}

func TestRankKeywords(t *testing.T) {
	keywords := []model.CategoryKeyword{
		{Keyword: "a", PCVolume: 10},
		{Keyword: "b", PCVolume: 30},
		{Keyword: "c", MobileVolume: 10},
		{Keyword: "d", PCVolume: 5, MobileVolume: 50},
	}

	tests := []struct {
		n    int
		want string
	}{
		{1, "d"},
		{3, "d,b,a"},
		{10, "d,b,a,c"},
	}

	for _, tt := range tests {
		if got := rankKeywords(keywords, tt.n); got != tt.want {
			t.Errorf("rankKeywords(n=%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
	if keywords[0].Keyword != "a" {
		t.Error("rankKeywords reordered its input")
	}
}

func TestRefreshDeduplicatesAcrossSeeds(t *testing.T) {
	source := keywordSourceFunc(func(ctx context.Context, seed string) ([]searchad.RelatedKeyword, error) {
		return []searchad.RelatedKeyword{{Keyword: "shared", PCVolume: 10}, {Keyword: seed + " extra"}}, nil
	})
	sellers := sellerCounterFunc(func(ctx context.Context, keyword string) (int64, error) { return 1, nil })
	store := &memoryStore{}

	result, err := NewRefresher(source, sellers, store, 0).Refresh(context.Background(),
		model.CategoryPath{"Home", "Lamp"}, "1", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if result.Keywords != 3 || store.batches != 1 {
		t.Errorf("result = %+v batches = %d", result, store.batches)
	}
}

func TestRefreshErrors(t *testing.T) {
	failing := keywordSourceFunc(func(ctx context.Context, seed string) ([]searchad.RelatedKeyword, error) {
		return nil, errors.New("signature rejected")
	})
	sellers := sellerCounterFunc(func(ctx context.Context, keyword string) (int64, error) { return 0, nil })

	tests := []struct {
		name      string
		path      model.CategoryPath
		catalogID string
	}{
		{"missing path", nil, "1"},
		{"missing catalog id", model.CategoryPath{"Home"}, ""},
		{"source failure", model.CategoryPath{"Home"}, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memoryStore{}
			if _, err := NewRefresher(failing, sellers, store, 0).Refresh(context.Background(), tt.path, tt.catalogID, nil); err == nil {
				t.Fatal("expected error")
			}
			if len(store.keywords) != 0 {
				t.Error("keywords stored on failure")
			}
		})
	}
}
