package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/C4T-BuT-S4D/cfwatch/internal/api"
	"github.com/C4T-BuT-S4D/cfwatch/internal/codeforces"
	"github.com/C4T-BuT-S4D/cfwatch/internal/config"
	"github.com/C4T-BuT-S4D/cfwatch/internal/gateway"
	"github.com/C4T-BuT-S4D/cfwatch/internal/gateway/onebot"
	"github.com/C4T-BuT-S4D/cfwatch/internal/gateway/telegram"
	"github.com/C4T-BuT-S4D/cfwatch/internal/locale"
	"github.com/C4T-BuT-S4D/cfwatch/internal/logging"
	"github.com/C4T-BuT-S4D/cfwatch/internal/monitor"
	"github.com/C4T-BuT-S4D/cfwatch/internal/scheduler"
	"github.com/C4T-BuT-S4D/cfwatch/internal/storage"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	config.SetupCommon()
	logging.Init()

	cfg := config.New()
	logrus.Debugf("config: chat_platform=%s database_driver=%s locale=%s", cfg.ChatPlatform, cfg.DatabaseDriver, cfg.Locale)

	db, err := storage.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	store := storage.New(db)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
	defer initCancel()

	if err := store.Migrate(initCtx); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}

	judge := codeforces.New(codeforces.Options{
		BaseURL:    cfg.CodeforcesAPIURL,
		Window:     cfg.RecentWindow,
		MaxRetries: cfg.APIMaxRetries,
		RetryDelay: cfg.APIRetryDelay,
		FetchCount: cfg.SubmissionFetchCount,
		Timeout:    cfg.APITimeout,
	})

	gw := gateway.New(newTransport(cfg), gateway.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectDelay:    cfg.ReconnectDelay,
		SendInterval:      cfg.SendInterval,
		Catalog:           locale.Lookup(cfg.Locale),
	})
	if err := gw.Start(initCtx); err != nil {
		logrus.Fatalf("Failed to start chat gateway: %v", err)
	}

	mon := monitor.New(cfg, store, store, judge, gw)

	locker, closeLocker := newLocker(cfg)
	defer closeLocker()

	sched := scheduler.New(mon, scheduler.Options{
		Interval:     cfg.MonitorInterval,
		CycleTimeout: cfg.CycleTimeout,
		Locker:       locker,
	})

	e := echo.New()
	e.HideBanner = true
	api.NewService(cfg, nil, nil).
		WithStatus(func() api.Status {
			st := api.Status{Gateway: gw.State().String()}
			if last, ok := mon.LastCycle(); ok {
				st.LastCycle = &last
			}
			return st
		}).
		Register(e)

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil {
			logrus.Errorf("scheduler stopped: %v", err)
			cancel()
		}
	}()

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("status server stopped: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logrus.Info("waiting for the running cycle to finish")
	<-schedDone

	if err := gw.Close(); err != nil {
		logrus.Warnf("closing chat gateway: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.Warnf("shutting down status server: %v", err)
	}

	logrus.Info("waiting for services to finish")
	wg.Wait()
}

func newTransport(cfg *config.Config) gateway.Transport {
	switch cfg.ChatPlatform {
	case "telegram":
		return telegram.New(telegram.Options{
			Token:  cfg.TelegramToken,
			APIURL: cfg.TelegramAPIURL,
		})
	default:
		return onebot.New(onebot.Options{
			URL:         cfg.OneBotURL,
			AccessToken: cfg.OneBotToken,
		})
	}
}

func newLocker(cfg *config.Config) (scheduler.Locker, func()) {
	if cfg.RedisAddr == "" {
		return scheduler.NopLocker{}, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return scheduler.NewRedisLocker(client), func() {
		if err := client.Close(); err != nil {
			logrus.Warnf("closing redis client: %v", err)
		}
	}
}
