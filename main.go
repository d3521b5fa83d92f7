package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"portfoliochat/internal/api"
	"portfoliochat/internal/auth"
	"portfoliochat/internal/config"
	"portfoliochat/internal/live"
	"portfoliochat/internal/middleware"
	"portfoliochat/internal/notify"
	"portfoliochat/internal/redis"
	"portfoliochat/internal/service/ai"
	"portfoliochat/internal/service/assistant"
	"portfoliochat/internal/storage"
	"portfoliochat/internal/transcript"
	"portfoliochat/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load(os.Getenv("PORTFOLIOCHAT_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("PORTFOLIOCHAT_DB")
	if dbType == "" {
		dbType = storage.DialectSQLite
	}
	log.Printf("dbType: %s", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	// Create necessary tables: chats, messages, admin_tokens
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// Redis is optional: it carries the live changefeed across processes and
	// caches admin tokens. Without it observers poll the store.
	var (
		rdb     *redis.Client
		feed    live.Feed
		refresh time.Duration
	)
	pollInterval := time.Duration(cfg.BasicConfig.PollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = live.DefaultPollInterval
	}
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
		feed = live.NewRedisFeed(rdb)
		// pub/sub drops notices while a subscriber is away; re-read on the poll interval too
		refresh = pollInterval
	} else {
		feed = live.NewPollFeed(pollInterval)
	}

	store, err := transcript.NewStore(db, dbType, feed)
	if err != nil {
		log.Fatalf("init transcript store: %v", err)
	}

	ctx := context.Background()
	streamer := newStreamer(ctx, cfg)

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Second,
		Debug:             cfg.BasicConfig.WorkerDebug,
	})
	defer dispatcher.Close()

	notifier := notify.NewDispatcher(cfg.Notify)
	if !notifier.Enabled() {
		log.Printf("notify: telegram credentials missing, contact paging disabled")
	}

	assistantService := assistant.NewService(store, streamer, notifier, dispatcher, assistant.Options{
		HistoryLimit:      cfg.BasicConfig.HistoryLimit,
		Keywords:          cfg.Notify.Keywords,
		Greeting:          cfg.Assistant.Greeting,
		GenerationTimeout: time.Duration(cfg.BasicConfig.GenerationTimeoutSeconds) * time.Second,
	})
	defer assistantService.Wait()

	authService := auth.NewService(db, rdb, cfg.Admin)
	if !authService.Enabled() {
		log.Printf("auth: no admin password configured, admin login disabled")
	}
	if n, err := authService.PurgeExpired(ctx); err != nil {
		log.Printf("auth: purge expired tokens: %v", err)
	} else if n > 0 {
		log.Printf("auth: purged %d expired admin tokens", n)
	}

	syncer := live.NewSyncer(store, feed, cfg.BasicConfig.HistoryLimit, refresh)
	handlers := api.NewHandler(assistantService, authService, syncer)

	router := gin.New()
	router.Use(middleware.Logger(), middleware.Recovery())
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

// newStreamer builds the generation capability. A missing API key keeps the
// chat running with replies that report the assistant as unavailable.
func newStreamer(ctx context.Context, cfg *config.Config) ai.Streamer {
	profile, err := ai.LoadProfile(ctx, cfg.Assistant.ProfilePath)
	if err != nil {
		log.Printf("ai: %v", err)
	}
	svc, err := ai.NewService(ctx, cfg, ai.BuildPersona(cfg.Assistant.Persona, profile, cfg.Assistant.Search.Enabled))
	if err != nil {
		if errors.Is(err, ai.ErrNotConfigured) {
			log.Printf("ai: %v; replies disabled", err)
			return ai.Disabled{}
		}
		log.Fatalf("init ai service: %v", err)
	}
	return svc
}
