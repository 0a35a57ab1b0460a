package server

import (
	"context"
	"encoding/json"
	"errors"
	"keywords/internal/controller"
	"keywords/internal/database"
	"keywords/internal/model"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

type stubCatalog struct{}

func (stubCatalog) GetCategory(ctx context.Context, name string) (*model.Category, error) {
	switch name {
	case "":
		return nil, controller.ErrEmptyQuery
	case "Fashion>Tops>shirt":
		return &model.Category{Path: name, CatalogID: "50000830"}, nil
	case "broken":
		return nil, errors.New("mongo down")
	}
	return nil, database.ErrCatalogNotFound
}

func (stubCatalog) GetRank(ctx context.Context, catalogID string) (*model.Rank, error) {
	switch catalogID {
	case "":
		return nil, controller.ErrEmptyQuery
	case "50000830":
		return &model.Rank{CatalogID: catalogID, RankKeyword: "linen shirt,shirt"}, nil
	}
	return nil, database.ErrRankNotFound
}

func TestCatalogHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := &Server{sc: stubHealth{}, jc: &stubJobs{}, cc: stubCatalog{}}
	handler := s.RegisterRoutes()

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"category", "/api/category?name=Fashion%3ETops%3Eshirt", http.StatusOK, ""},
		{"category missing name", "/api/category", http.StatusBadRequest, ""},
		{"category unknown", "/api/category?name=Home", http.StatusNotFound, ""},
		{"category store failure", "/api/category?name=broken", http.StatusInternalServerError, ""},
		{"rank", "/api/rank?categoryId=50000830", http.StatusOK, "linen shirt,shirt"},
		{"rank missing id", "/api/rank", http.StatusBadRequest, ""},
		{"rank unknown", "/api/rank?categoryId=1", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/category?name=Fashion%3ETops%3Eshirt", nil))
	var category model.Category
	if err := json.Unmarshal(rec.Body.Bytes(), &category); err != nil || category.CatalogID != "50000830" {
		t.Errorf("category body = %s", rec.Body.String())
	}
}
