package server

import (
	"fmt"
	"keywords/internal/config"
	"keywords/internal/controller"
	"net/http"
	"time"
)

type Server struct {
	sc     controller.ServerController
	jc     controller.JobController
	cc     controller.CatalogController
	config config.Config
}

func New(config config.Config, sc controller.ServerController, jc controller.JobController, cc controller.CatalogController) *http.Server {
	server := Server{
		sc:     sc,
		jc:     jc,
		cc:     cc,
		config: config,
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%v", config.Port),
		Handler:      server.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
