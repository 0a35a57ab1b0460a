package server

import (
	"errors"
	"keywords/internal/controller"
	"keywords/internal/database"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// GetCategoryHandler looks up a category by its full path
func (s *Server) GetCategoryHandler(c *gin.Context) {
	name := c.Query("name")

	category, err := s.cc.GetCategory(c.Request.Context(), name)
	switch {
	case errors.Is(err, controller.ErrEmptyQuery):
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
	case errors.Is(err, database.ErrCatalogNotFound):
		log.Warn().Str("name", name).Msg("No category found")
		c.JSON(http.StatusNotFound, gin.H{"error": "Category not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get category: " + err.Error()})
	default:
		c.JSON(http.StatusOK, category)
	}
}

// GetRankHandler returns the ranked keywords of a catalog id as plain text
func (s *Server) GetRankHandler(c *gin.Context) {
	catalogID := c.Query("categoryId")

	rank, err := s.cc.GetRank(c.Request.Context(), catalogID)
	switch {
	case errors.Is(err, controller.ErrEmptyQuery):
		c.JSON(http.StatusBadRequest, gin.H{"error": "categoryId is required"})
	case errors.Is(err, database.ErrRankNotFound):
		log.Warn().Str("catalogId", catalogID).Msg("No rank found")
		c.JSON(http.StatusNotFound, gin.H{"error": "Rank not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get rank: " + err.Error()})
	default:
		c.String(http.StatusOK, rank.RankKeyword)
	}
}
