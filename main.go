package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-sync/api"
	"board-sync/board"
	"board-sync/feed"
	"board-sync/invalidation"
	"board-sync/storage"
)

func main() {
	cfg := loadConfig()
	if cfg.debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tables, err := storage.New(cfg.storageConn, cfg.tasksTable)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	_, err = tables.Probe(probeCtx)
	cancel()
	if err != nil {
		log.Fatalf("storage probe: %v", err)
	}

	redisOpts, err := redisOptions(cfg.redisConn)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	origin := uuid.NewString()
	publisher := feed.NewPublisher(rc, cfg.feedPrefix, origin)
	store := feed.NewPublishingStore(tables, publisher)
	transport := feed.NewRedisTransport(rc, cfg.feedPrefix, cfg.subscribeTimeout, logger)
	reads := storage.NewCache(tables, rc, cfg.tasksCacheTTL)
	router := invalidation.NewRouter(invalidation.DefaultRules, reads, cfg.invalidateCooldown, logger)

	var activity board.ActivityLog
	if cfg.activityQueue != "" {
		queue, err := storage.NewActivityQueue(cfg.storageConn, cfg.activityQueue)
		if err != nil {
			log.Fatalf("activity queue: %v", err)
		}
		activity = feed.NewPublishingActivityLog(queue, publisher)
	}

	hub := board.NewHub(store, transport, board.HubOptions{
		Controller: board.Options{
			Activity:        activity,
			Invalidator:     router,
			Classify:        storage.Classify,
			Logger:          logger,
			ActivityTimeout: cfg.activityTimeout,
		},
		Origin: origin,
	})
	defer hub.Close()
	go resubscribeLoop(ctx, hub, cfg.resubscribeEvery)

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	e.Use(api.RequestBodyMiddleware())
	api.Register(e, api.Deps{
		Boards:    hub,
		Reads:     reads,
		Auth:      auth,
		Transport: transport,
		Health:    func(ctx context.Context) error { return rc.Ping(ctx).Err() },
		Logger:    logger,
	})

	go func() {
		if err := e.Start(cfg.listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()
	log.WithFields(log.Fields{"addr": cfg.listenAddr, "origin": origin}).Info("board service started")

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	log.Info("board service stopped")
}

func newAuth(cfg config) (*api.Auth, error) {
	if cfg.localAuthMode == "hs256" {
		return api.NewLocalAuth([]byte(cfg.localSecret)), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg.auth0Audience, "https://"+cfg.auth0Domain+"/", cfg.jwksCacheTTL), nil
}

// resubscribeLoop repairs sessions whose change feed ended. Subscriptions
// never reconnect on their own.
func resubscribeLoop(ctx context.Context, hub *board.Hub, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := hub.Resubscribe(ctx); n > 0 {
				log.WithField("sessions", n).Info("resubscribed lost board sessions")
			}
		}
	}
}
