package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// maxUploadMemory is how much of a multipart upload is held in memory before spilling to disk
const maxUploadMemory = 32 << 20

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.New()
	r.MaxMultipartMemory = maxUploadMemory
	r.Use(gin.Recovery(), RequestLogger())

	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  len(s.config.CORS.AllowedOrigins) == 0,
		AllowOrigins:     s.config.CORS.AllowedOrigins,
		AllowMethods:     s.config.CORS.AllowedMethods,
		AllowHeaders:     s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           time.Duration(s.config.CORS.MaxAge) * time.Second,
	}))

	r.GET("/health", s.readyHandler)
	r.GET("/online", s.onlineHandler)

	api := r.Group("/api")
	{
		api.POST("/work", s.SubmitWorkHandler)
		api.GET("/work", s.ListWorksHandler)
		api.GET("/work/:id", s.GetWorkHandler)
		api.POST("/work/:id/kill", s.KillWorkHandler)

		api.GET("/status", s.ListProgressHandler)
		api.GET("/status/:id", s.GetProgressHandler)

		api.GET("/result/:name", s.DownloadResultHandler)

		api.GET("/category", s.GetCategoryHandler)
		api.GET("/rank", s.GetRankHandler)
	}

	return r
}
