// Command leadscraper runs the multi-tenant map-search lead scraping
// service: the browser session pool, scraper pipeline, dedup oracle, cursor
// manager and progress tracker, fronted by the HTTP/WebSocket boundary
// described in the service's external interfaces.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/TDHINGRA16/Scrappy/internal/config"
	"github.com/TDHINGRA16/Scrappy/internal/cursor"
	"github.com/TDHINGRA16/Scrappy/internal/history"
	"github.com/TDHINGRA16/Scrappy/internal/metrics"
	"github.com/TDHINGRA16/Scrappy/internal/orchestrator"
	"github.com/TDHINGRA16/Scrappy/internal/progress"
	"github.com/TDHINGRA16/Scrappy/internal/server"
	"github.com/TDHINGRA16/Scrappy/internal/sessionpool"
	"github.com/TDHINGRA16/Scrappy/pkg/logger"
	"github.com/TDHINGRA16/Scrappy/pkg/useragent"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config overlay")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "leadscraper: load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "leadscraper: init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal("create data dir", zap.Error(err))
	}

	zapLog := log.Zap()

	mc := metrics.New()
	uaPool := useragent.NewPool(cfg.UserAgents)
	pool := sessionpool.New(*cfg, uaPool, zapLog, mc)
	defer pool.Shutdown()

	hist, err := history.New(cfg.DataDir + "/history")
	if err != nil {
		log.Fatal("init history store", zap.Error(err))
	}
	cursors, err := cursor.New(cfg.DataDir + "/cursors")
	if err != nil {
		log.Fatal("init cursor manager", zap.Error(err))
	}
	prog := progress.New(zapLog)
	defer prog.Stop()

	orch := orchestrator.New(pool, hist, cursors, prog, mc, *cfg, zapLog, nil)

	if *configPath != "" {
		reloader := config.NewReloader(*configPath, zapLog)
		reloader.OnChange(func(newCfg *config.Config) {
			orch.Config = *newCfg
			log.Info("config reloaded")
		})
		if err := reloader.Start(); err != nil {
			log.Warn("config hot-reload disabled", zap.Error(err))
		} else {
			defer reloader.Stop()
		}
	}

	srv := server.New(*cfg, zapLog, orch, pool, cursors, hist, prog, mc)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go cleanupLoop(cursors, zapLog)

	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// cleanupLoop runs the cursor TTL maintenance sweep described in §4.5 at a
// daily cadence, well below the 30-day TTL itself.
func cleanupLoop(cursors *cursor.Manager, log *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		removed, err := cursors.CleanupExpired()
		if err != nil {
			log.Warn("cursor cleanup failed", zap.Error(err))
			continue
		}
		if removed > 0 {
			log.Info("cursor cleanup", zap.Int("removed", removed))
		}
	}
}
