package controller

import (
	"context"
	"errors"
	"keywords/internal/model"
	"strings"
)

// ErrEmptyQuery is returned when a catalog lookup is missing its key
var ErrEmptyQuery = errors.New("query is empty")

// CatalogStore is the read side of the catalog collections
type CatalogStore interface {
	FindCategory(ctx context.Context, path string) (*model.Category, error)
	FindRank(ctx context.Context, catalogID string) (*model.Rank, error)
}

// CatalogController answers category and rank lookups
type CatalogController interface {
	// GetCategory finds a category by its full ">" separated path
	GetCategory(ctx context.Context, name string) (*model.Category, error)

	GetRank(ctx context.Context, catalogID string) (*model.Rank, error)
}

type catalogController struct {
	store CatalogStore
}

func NewCatalogController(store CatalogStore) CatalogController {
	return &catalogController{store: store}
}

// GetCategory implements CatalogController. Whitespace around levels is ignored.
func (c *catalogController) GetCategory(ctx context.Context, name string) (*model.Category, error) {
	path := model.ParseCategoryPath(name)
	if len(path) == 0 {
		return nil, ErrEmptyQuery
	}
	return c.store.FindCategory(ctx, path.String())
}

// GetRank implements CatalogController
func (c *catalogController) GetRank(ctx context.Context, catalogID string) (*model.Rank, error) {
	catalogID = strings.TrimSpace(catalogID)
	if catalogID == "" {
		return nil, ErrEmptyQuery
	}
	return c.store.FindRank(ctx, catalogID)
}
