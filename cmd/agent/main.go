package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/tesgazer-edge/internal/agent"
	"github.com/langchou/tesgazer-edge/internal/buffer"
	"github.com/langchou/tesgazer-edge/internal/config"
	"github.com/langchou/tesgazer-edge/internal/ingest"
	"github.com/langchou/tesgazer-edge/internal/lifecycle"
	"github.com/langchou/tesgazer-edge/internal/linkwatch"
	"github.com/langchou/tesgazer-edge/internal/ops"
	"github.com/langchou/tesgazer-edge/internal/predictor"
	"github.com/langchou/tesgazer-edge/internal/transport"
	"github.com/langchou/tesgazer-edge/pkg/ws"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("starting tesgazer edge agent", zap.String("vin", cfg.VIN))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sourcePath, err := resolveSourcePath(cfg)
	if err != nil {
		logger.Fatal("failed to resolve sample source", zap.Error(err))
	}
	logger.Info("replaying sample source", zap.String("path", sourcePath))

	file, err := os.Open(sourcePath)
	if err != nil {
		logger.Fatal("failed to open sample source", zap.Error(err))
	}
	source := ingest.NewSource(file, file, cfg.SampleInterval)

	if err := os.MkdirAll(cfg.BufferDir, 0o755); err != nil {
		logger.Fatal("failed to create buffer directory", zap.Error(err))
	}
	bufferPath := filepath.Join(cfg.BufferDir, cfg.VIN+".db")
	bufStore, err := buffer.Open(bufferPath, logger)
	if err != nil {
		logger.Fatal("failed to open buffer store", zap.Error(err))
	}
	defer bufStore.Close()

	linkState := linkwatch.NewLinkState()

	var hub *ws.Hub
	var lifecycleMachine *lifecycle.Machine
	if cfg.HTTPAddr != "" {
		hub = ws.NewHub(logger)
		hubStop := make(chan struct{})
		defer close(hubStop)
		go hub.Run(hubStop)

		lifecycleMachine = lifecycle.New(func(from, to string) {
			logger.Info("lifecycle transition", zap.String("from", from), zap.String("to", to))
			hub.BroadcastMessage("lifecycle_update", map[string]string{"from": from, "to": to})
		})
	} else {
		lifecycleMachine = lifecycle.New(nil)
	}

	a := agent.New(agent.Config{
		VIN:        cfg.VIN,
		Source:     source,
		Predictor:  predictor.New(nil),
		Buffer:     bufStore,
		Transport:  transport.New(cfg.IngestHost, cfg.VIN),
		LinkState:  linkState,
		Lifecycle:  lifecycleMachine,
		Logger:     logger,
		StatsEvery: cfg.StatsEvery,
		OnStats: func(s agent.Stats) {
			if hub != nil {
				hub.BroadcastStats(s)
			}
		},
	})

	if hub != nil {
		hub.SetSnapshotProvider(func() interface{} { return a.Stats() })
	}

	onToggle := func(online bool) {
		if hub != nil {
			hub.BroadcastLinkState(online)
		}
	}

	watcher := linkwatch.New(linkState, os.Stdin, logger, onToggle)
	go watcher.Run(ctx)

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		if !cfg.Debug {
			gin.SetMode(gin.ReleaseMode)
		}
		handler := ops.New(logger, linkState, func() interface{} { return a.Stats() }, hub, onToggle)

		router := gin.New()
		router.Use(gin.Recovery())
		handler.RegisterRoutes(router)

		httpServer = &http.Server{Addr: cfg.HTTPAddr, Handler: router}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("operational http server stopped unexpectedly", zap.Error(err))
			}
		}()
		logger.Info("operational surface listening", zap.String("addr", cfg.HTTPAddr))
	}

	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-runDone:
		if err != nil {
			logger.Error("agent run exited with error", zap.Error(err))
		} else {
			logger.Info("sample source exhausted, shutting down")
		}
	case sig := <-quit:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
		<-runDone
	}

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("operational http server forced to shutdown", zap.Error(err))
		}
	}

	logger.Info("agent exited")
}

func resolveSourcePath(cfg *config.Config) (string, error) {
	return ingest.ResolvePath(cfg.SourcePath, cfg.VIN, cfg.DataDir)
}

func initLogger(debug bool) *zap.Logger {
	var zapCfg zap.Config
	if debug {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Printf("failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
