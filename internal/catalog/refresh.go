package catalog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"keywords/internal/model"
	"keywords/internal/orchestrator"
	"keywords/pkg/searchad"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	upsertBatchSize = 500

	// rankSize is how many keywords a category rank lists
	rankSize = 10
)

// KeywordSource returns keywords related to a seed with their search volumes
type KeywordSource interface {
	RelatedKeywords(ctx context.Context, seed string) ([]searchad.RelatedKeyword, error)
}

// SellerCounter returns how many listings a keyword search yields
type SellerCounter interface {
	SellerCount(ctx context.Context, keyword string) (int64, error)
}

// Store is where the refreshed catalog is written
type Store interface {
	UpsertCategory(ctx context.Context, category model.Category) error
	UpsertCategoryKeywords(ctx context.Context, keywords []model.CategoryKeyword) error
	UpsertRank(ctx context.Context, rank model.Rank) error
}

// Refresher seeds the candidate keywords of one catalog id
type Refresher struct {
	keywords  KeywordSource
	sellers   SellerCounter
	store     Store
	callDelay time.Duration
}

func NewRefresher(keywords KeywordSource, sellers SellerCounter, store Store, callDelay time.Duration) *Refresher {
	return &Refresher{keywords: keywords, sellers: sellers, store: store, callDelay: callDelay}
}

// Result summarizes one refresh
type Result struct {
	Keywords int
	Skipped  int
}

// Refresh maps path to catalogID, then stores every keyword related to the
// seeds with its search volumes and seller count, and records the top keywords
// as the category rank. The path leaf is the seed when none are given.
// Keywords whose seller count cannot be read are skipped.
func (r *Refresher) Refresh(ctx context.Context, path model.CategoryPath, catalogID string, seeds []string) (Result, error) {
	var result Result
	if len(path) == 0 || catalogID == "" {
		return result, errors.New("category path and catalog id are required")
	}
	if len(seeds) == 0 {
		seeds = []string{path.Leaf()}
	}

	logger := log.With().Str("categoryPath", path.String()).Str("catalogId", catalogID).Logger()

	if err := r.store.UpsertCategory(ctx, model.Category{Path: path.String(), CatalogID: catalogID}); err != nil {
		return result, fmt.Errorf("store category: %w", err)
	}

	related := make(map[string]searchad.RelatedKeyword)
	var order []string
	for _, seed := range seeds {
		found, err := r.keywords.RelatedKeywords(ctx, seed)
		if err != nil {
			return result, fmt.Errorf("related keywords for %q: %w", seed, err)
		}
		for _, k := range found {
			k.Keyword = strings.TrimSpace(k.Keyword)
			if k.Keyword == "" {
				continue
			}
			if _, seen := related[k.Keyword]; !seen {
				order = append(order, k.Keyword)
			}
			related[k.Keyword] = k
		}
	}

	logger.Info().Int("seeds", len(seeds)).Int("keywords", len(order)).Msg("Collected related keywords")

	keywords := make([]model.CategoryKeyword, 0, len(order))
	for _, name := range order {
		sellers, err := r.sellers.SellerCount(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logger.Warn().Err(err).Str("keyword", name).Msg("Seller count lookup failed, skipping keyword")
			result.Skipped++
			continue
		}

		k := related[name]
		keywords = append(keywords, model.CategoryKeyword{
			CatalogID:    catalogID,
			Keyword:      name,
			SellerCount:  sellers,
			PCVolume:     k.PCVolume,
			MobileVolume: k.MobileVolume,
		})

		if err := sleepCtx(ctx, r.callDelay); err != nil {
			return result, err
		}
	}

	for _, batch := range orchestrator.SplitIntoBatches(keywords, upsertBatchSize) {
		if err := r.store.UpsertCategoryKeywords(ctx, batch); err != nil {
			return result, fmt.Errorf("store keywords: %w", err)
		}
		result.Keywords += len(batch)
	}

	if len(keywords) > 0 {
		rank := model.Rank{CatalogID: catalogID, Category: path.Leaf(), RankKeyword: rankKeywords(keywords, rankSize)}
		if err := r.store.UpsertRank(ctx, rank); err != nil {
			return result, fmt.Errorf("store rank: %w", err)
		}
	}

	logger.Info().Int("stored", result.Keywords).Int("skipped", result.Skipped).Msg("Catalog refreshed")
	return result, nil
}

// rankKeywords joins the n highest volume keywords, ties kept in input order
func rankKeywords(keywords []model.CategoryKeyword, n int) string {
	ranked := slices.Clone(keywords)
	slices.SortStableFunc(ranked, func(a, b model.CategoryKeyword) int {
		return cmp.Compare(b.TotalVolume(), a.TotalVolume())
	})

	names := make([]string, 0, n)
	for _, k := range ranked[:min(n, len(ranked))] {
		names = append(names, k.Keyword)
	}
	return strings.Join(names, ",")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
