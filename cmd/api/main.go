package main

import (
	"context"
	"time"

	"github.com/C4T-BuT-S4D/cfwatch/internal/api"
	"github.com/C4T-BuT-S4D/cfwatch/internal/codeforces"
	"github.com/C4T-BuT-S4D/cfwatch/internal/config"
	"github.com/C4T-BuT-S4D/cfwatch/internal/logging"
	"github.com/C4T-BuT-S4D/cfwatch/internal/storage"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

func main() {
	config.SetupCommon()
	logging.Init()

	cfg := config.New()

	db, err := storage.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}

	store := storage.New(db)
	migrateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Migrate(migrateCtx); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}

	judge := codeforces.New(codeforces.Options{
		BaseURL:    cfg.CodeforcesAPIURL,
		MaxRetries: cfg.APIMaxRetries,
		RetryDelay: cfg.APIRetryDelay,
		Timeout:    cfg.APITimeout,
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	api.NewService(cfg, store, judge).Register(e)

	if err := e.Start(cfg.HTTPAddr); err != nil {
		logrus.Fatalf("api server stopped: %v", err)
	}
}
