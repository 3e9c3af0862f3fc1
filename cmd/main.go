package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/ICShapy/shapy/internal/broadcast"
	"github.com/ICShapy/shapy/internal/config"
	"github.com/ICShapy/shapy/internal/handler"
	"github.com/ICShapy/shapy/internal/hub"
	"github.com/ICShapy/shapy/internal/lock"
	"github.com/ICShapy/shapy/internal/permission"
	"github.com/ICShapy/shapy/internal/service"
	"github.com/ICShapy/shapy/internal/store"
	pkgcache "github.com/ICShapy/shapy/pkg/cache"
	"github.com/ICShapy/shapy/pkg/database"
	"github.com/ICShapy/shapy/pkg/jwt"
	pkglog "github.com/ICShapy/shapy/pkg/log"
	"github.com/ICShapy/shapy/pkg/middleware"
	"github.com/ICShapy/shapy/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to the asset database
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.AutoMigrate(db, permission.Models()...); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database migration completed")

	// Connect to Redis
	redisClient, err := pkgcache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	logger.Info().Str("address", cfg.Redis.Address).Msg("redis connected")

	// Initialize scene bus
	bus, err := pubsub.NewPubSub(cfg.PubSub, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize pubsub")
	}
	defer bus.Close()
	logger.Info().Str("driver", cfg.PubSub.Driver).Msg("pubsub initialized")

	// Initialize engine components
	gate := permission.NewGate(permission.NewGormRepository(db))
	scenes := store.NewRedisStore(redisClient, gate, store.Options{
		MaxRetries:   cfg.Scene.MaxRetries,
		RetryBackoff: cfg.Scene.RetryBackoff,
	})
	locks := lock.NewRedisLockManager(redisClient, cfg.Lock.TTL)
	engine := service.NewEngine(gate, scenes, locks, broadcast.New(bus, scenes))

	// Initialize auth middleware
	tokens, err := jwt.NewManager(cfg.Session.Secret, cfg.Session.Duration, cfg.Session.Issuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create session token manager")
	}
	authMiddleware := middleware.NewAuthMiddleware(tokens)

	// Initialize handlers
	wsHub := hub.NewHub()
	wsHandler := handler.NewWSHandler(wsHub, engine, cfg.WebSocket, cfg.Server.AllowedOrigins)
	httpHandler := handler.NewHandler(engine, wsHub, wsHandler, authMiddleware)

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))
	httpHandler.RegisterRoutes(r)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("edit-service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info().Msg("shutting down edit-service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Sessions release their locks and leave before the bus goes away.
		if err := wsHub.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Int("clients", wsHub.Count()).Msg("clients still connected at shutdown")
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("edit-service stopped with error")
		return
	}
	logger.Info().Msg("edit-service stopped")
}
