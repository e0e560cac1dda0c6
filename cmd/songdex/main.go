package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/songdex/songdex/internal/cache"
	"github.com/songdex/songdex/internal/config"
	"github.com/songdex/songdex/internal/filestore"
	"github.com/songdex/songdex/internal/handler"
	"github.com/songdex/songdex/internal/job"
	"github.com/songdex/songdex/internal/middleware"
	"github.com/songdex/songdex/internal/rank"
	"github.com/songdex/songdex/internal/resilience"
	"github.com/songdex/songdex/internal/schedule"
	"github.com/songdex/songdex/internal/service"
	"github.com/songdex/songdex/internal/storage"
	_ "github.com/songdex/songdex/internal/storage/astra"
	_ "github.com/songdex/songdex/internal/storage/local"
	_ "github.com/songdex/songdex/internal/storage/postgres"
	"github.com/songdex/songdex/internal/vectorsearch"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "songdex",
		Short: "songdex catalog server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run songdex server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
			return runServer(cfg)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("storage", cfg.Storage.Type),
		zap.String("model", cfg.Storage.ModelName),
	)

	backend, err := storage.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("init storage backend: %w", err)
	}
	defer backend.Close()

	caller := resilience.NewCaller(cfg.Resilience)
	metaCache := cache.New(cfg.Cache.Size, cfg.Cache.TTL(), cfg.Cache.Shards)
	wrapped := storage.WrapCache(storage.WrapResilience(backend, caller), metaCache)

	engine := vectorsearch.NewEngine(wrapped, cfg.Storage.ExactFallback)
	fuser := rank.NewFuser(cfg.Ranking)

	var store filestore.Store
	if cfg.FileStore.Data != nil {
		store, err = filestore.New(cfg.FileStore)
		if err != nil {
			return fmt.Errorf("init file store: %w", err)
		}
	}

	catalog := service.NewCatalogService(wrapped, engine, fuser, store, cfg.Storage, cfg.Resilience.WorkerPoolSize)

	scheduler := schedule.NewScheduler()
	if cfg.Storage.ExactFallback.Enabled {
		if err := scheduler.AddJob(job.NewSnapshotRefreshJob(engine, cfg.Storage.ModelName), cfg.Jobs.SnapshotRefreshSpec); err != nil {
			return err
		}
	}
	if err := scheduler.AddJob(job.NewStatsWarmJob(wrapped), cfg.Jobs.StatsWarmSpec); err != nil {
		return err
	}

	deps := handler.RouterDeps{
		Songs:  handler.NewSongHandler(catalog),
		Search: handler.NewSearchHandler(catalog),
		Stats:  handler.NewStatsHandler(catalog),
		Audio:  handler.NewAudioHandler(catalog),
	}

	engineHTTP, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllow),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
	defer scheduler.Stop()

	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))
	go func() {
		if err := engineHTTP.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
