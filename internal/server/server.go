package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/readerlab/bookchat/config"
	"github.com/readerlab/bookchat/internal/index/qdrant"
	"github.com/readerlab/bookchat/internal/ingest"
	"github.com/readerlab/bookchat/internal/rag"
	"github.com/readerlab/bookchat/internal/retrieval"
	"github.com/readerlab/bookchat/internal/session"
	"github.com/readerlab/bookchat/internal/store"
	"github.com/readerlab/bookchat/internal/validation"
	"github.com/readerlab/bookchat/provider"
	"github.com/redis/go-redis/v9"
)

// Run loads config, wires the pipeline and serves the HTTP API until interrupted.
func Run(cfgPath, addr string) error {
	cfg := config.LoadConfig(cfgPath)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	origins := cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "X-Admin-Key"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("postgres connection failed: %w", err)
	}

	prov, err := provider.NewProvider(cfg.Providers)
	if err != nil {
		return err
	}

	idx := qdrant.NewStorage(qdrant.Config{
		URL:        cfg.Qdrant.URL,
		APIKey:     cfg.Qdrant.APIKey,
		Collection: cfg.Qdrant.Collection,
		Timeout:    cfg.Qdrant.Timeout,
	})
	if err := idx.EnsureCollection(ctx, cfg.Qdrant.Dimensions); err != nil {
		return fmt.Errorf("qdrant collection: %w", err)
	}

	sessions := session.NewManager(st, log.New(log.Writer(), "[SESSION] ", log.LstdFlags),
		cfg.RAG.SessionTTL, cfg.RAG.MaxConversationMsgs)
	engine := retrieval.NewEngine(prov, idx, st, log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags),
		cfg.RAG.SimilarityThreshold)
	validator := validation.NewValidator(prov, log.New(log.Writer(), "[VALIDATE] ", log.LstdFlags),
		cfg.RAG.GroundingMinSimilarity, cfg.RAG.OutOfScopeThreshold, cfg.RAG.ContextCharLimit)
	orch := rag.NewOrchestrator(engine, validator, prov, sessions, st,
		log.New(log.Writer(), "[ORCH] ", log.LstdFlags), cfg.RAG.TopK, cfg.RAG.MaxConversationMsgs)
	pipeline := ingest.NewPipeline(prov, idx, st, log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
		cfg.RAG.ChunkTargetTokens, cfg.RAG.ChunkOverlapTokens, cfg.Qdrant.Dimensions)

	api := e.Group("/api")

	if cfg.Storage.Redis.Host != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
		}
		api.Use(RateLimit(rdb, cfg.Server.RateLimitPerMin))
	} else {
		baseLogger.Printf("redis not configured, rate limiting disabled")
	}

	qh := &QueryHandler{Orch: orch, Sessions: sessions}
	qh.Register(api)
	ah := &AdminHandler{Pipeline: pipeline, Store: st, Key: cfg.Server.AdminAPIKey}
	ah.Register(api.Group("/admin"))

	if addr == "" {
		addr = cfg.Server.Address
	}

	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(addr) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
