package main

import (
	"context"
	"flag"
	"fmt"
	"keywords/internal/catalog"
	"keywords/internal/config"
	"keywords/internal/database"
	"keywords/internal/model"
	"keywords/internal/orchestrator/worker"
	"keywords/pkg/searchad"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", config.Path(), "path to the JSON configuration file")
	path := flag.String("path", "", `category path, levels joined by ">", e.g. "Fashion>Tops>Shirts"`)
	catalogID := flag.String("catalog-id", "", "catalog id the path maps to")
	seeds := flag.String("seeds", "", "comma separated seed keywords (default: the path leaf)")
	flag.Parse()

	if *path == "" || *catalogID == "" {
		fmt.Println("Usage: catalog -path <a>b>c> -catalog-id <id> [-seeds kw1,kw2] [-config path]")
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	config.SetupLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize MongoDB connection
	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database connection")
	}
	defer db.Close(context.Background())

	ads := searchad.New(cfg.SearchAd.BaseURL, cfg.SearchAd.CustomerID, cfg.SearchAd.APIKey, cfg.SearchAd.SecretKey, cfg.SearchAd.RequestsPerMinute)
	defer ads.Close()

	shop := worker.NewShoppingClient(cfg.Shopping, db)
	defer shop.Close()

	var seedList []string
	for _, s := range strings.Split(*seeds, ",") {
		if s = strings.TrimSpace(s); s != "" {
			seedList = append(seedList, s)
		}
	}

	refresher := catalog.NewRefresher(ads, shop, db, cfg.Jobs.CallDelay())
	result, err := refresher.Refresh(ctx, model.ParseCategoryPath(*path), *catalogID, seedList)
	if err != nil {
		log.Error().Err(err).Msg("Catalog refresh failed")
		return
	}

	log.Info().Int("keywords", result.Keywords).Int("skipped", result.Skipped).Msg("Catalog refresh completed")
}
