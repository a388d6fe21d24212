package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"padel-finder/aggregator"
	"padel-finder/api"
	"padel-finder/checker"
	"padel-finder/clubs"
	"padel-finder/config"
	"padel-finder/handlers"
	"padel-finder/logger"
	"padel-finder/metrics"
	"padel-finder/parser"
	"padel-finder/session"
	"padel-finder/storage"
)

func initStorage(cfg *config.Config, log *zap.Logger) *storage.Storage {
	if cfg.RedisAddr == "" {
		log.Warn("⚠️ REDIS_ADDR not set, watches and the Telegram bot are disabled")
		return nil
	}
	store := storage.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		log.Fatal("redis connection failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	log.Info("✅ connected to redis", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
	return store
}

func sessionBackend(cfg *config.Config, store *storage.Storage) session.Backend {
	if cfg.SessionBackend == "redis" {
		return store
	}
	return session.NewFileBackend(cfg.SessionDir)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("invalid configuration: " + err.Error())
	}

	log := logger.New(cfg.Environment)
	defer func() { _ = log.Sync() }()

	loc := cfg.Location()
	time.Local = loc
	log.Info("🚀 starting padel-finder",
		zap.String("env", cfg.Environment),
		zap.String("timezone", loc.String()),
		zap.String("session_backend", cfg.SessionBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	store := initStorage(cfg, log)
	if store != nil {
		defer store.Close()
	}

	adapters := parser.Build(cfg, sessionBackend(cfg, store), parser.Deps{
		Log:      log,
		Metrics:  collector,
		Location: loc,
	})

	agg := aggregator.New(clubs.All(), adapters, log, aggregator.WithLocation(loc))

	var bot *tgbotapi.BotAPI
	if cfg.TelegramToken != "" {
		bot, err = tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			log.Fatal("telegram authorization failed", zap.Error(err))
		}
		log.Info("🤖 authorized on telegram", zap.String("account", bot.Self.UserName))
	}

	var notifier checker.Notifier
	if bot != nil {
		notifier = checker.NewTelegramNotifier(bot)
	}

	health := checker.NewHealthChecker(adapters.All(), collector, notifier, cfg.AdminChatID, log)
	keeper := checker.NewSessionKeeper(adapters.Sessions(), notifier, cfg.AdminChatID, log)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { health.Run(ctx, cfg.HealthInterval) })
	run(func() { keeper.Run(ctx, cfg.SessionCheckInterval) })

	if bot != nil && store != nil {
		watcher := checker.NewWatcher(agg, store, notifier, loc, log)
		run(func() { watcher.Run(ctx) })

		h := handlers.New(bot, store, agg, watcher, loc, log)
		run(func() { serveTelegram(ctx, bot, h, log) })
	} else if bot != nil {
		log.Warn("⚠️ telegram bot disabled: it needs redis for locations and watches")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(agg, clubs.All(), health, registry, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	run(func() {
		log.Info("🌐 http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			stop()
		}
	})

	<-ctx.Done()
	log.Info("🛑 shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if bot != nil {
		bot.StopReceivingUpdates()
	}
	wg.Wait()
	log.Info("stopped")
}

func serveTelegram(ctx context.Context, bot *tgbotapi.BotAPI, h *handlers.Handler, log *zap.Logger) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)

	log.Info("🤖 telegram bot is running")
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			// Updates are handled concurrently.
			go h.HandleUpdate(ctx, update)
		}
	}
}
