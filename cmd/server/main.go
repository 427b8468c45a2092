package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/archive"
	"github.com/iliyamo/bus-seat-reservation/internal/cache"
	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/database"
	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/internal/repository/memory"
	"github.com/iliyamo/bus-seat-reservation/internal/router"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
	"github.com/iliyamo/bus-seat-reservation/internal/worker"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logrus.Fatalf("mysql: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		logrus.Fatal(err)
	}

	store := repository.NewReservationRepo(db)
	trips := repository.NewTripRepo(db)
	archiveStore := openArchive(ctx, cfg)

	rdb := config.NewRedisClient(cfg.Redis)
	listCache := newCache(cfg, rdb)
	defer listCache.Close()

	var notifier service.Notifier
	if cfg.Notify.Enabled {
		notifier = queue.NewPublisher(cfg.Notify.RabbitURL)
	}

	opts := service.Options{HoldTTL: cfg.HoldTTL, SweepBatch: cfg.HoldSweepBatch}
	holds := service.NewHoldManager(store, trips, listCache, opts)
	bookings := service.NewBookingService(store, trips, listCache, notifier, opts)
	pipeline := archive.NewPipeline(store, archiveStore, archive.Options{Age: cfg.ArchiveAge, Batch: cfg.ArchiveBatch})

	// Every instance sweeps; the conditional updates make concurrent
	// sweepers safe.
	sweeper := worker.NewRunner("hold-sweeper", cfg.HoldSweepInterval, func(ctx context.Context) error {
		_, err := holds.Sweep(ctx)
		return err
	})
	archiver := worker.NewRunner("archiver", cfg.ArchiveInterval, func(ctx context.Context) error {
		_, err := pipeline.Sweep(ctx)
		return err
	})
	// Background work is joined before the deferred closes run.
	var workers sync.WaitGroup
	for _, w := range []*worker.Runner{sweeper, archiver} {
		workers.Add(1)
		go func() {
			defer workers.Done()
			w.Start(ctx)
		}()
	}

	if cfg.Notify.ConsumerEnabled {
		consumer := queue.NewConsumer(cfg.Notify.RabbitURL, cfg.Notify.LogDir)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logrus.WithError(err).Error("booking consumer stopped")
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e, router.Handlers{
		Bookings: handler.NewBookingHandler(bookings, holds),
		Archive:  handler.NewArchiveHandler(pipeline),
		Health:   handler.Health(sweeper, archiver),
	}, cfg.JWTSecret, middleware.NewTokenBucket(cfg.RateLimit, rdb))

	go func() {
		addr := ":" + cfg.Port
		logrus.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("http shutdown")
	}
	workers.Wait()
	bookings.Wait()
	logrus.Info("stopped")
}

// openArchive connects the Postgres archive, or keeps archived records in
// memory when ARCHIVE_DSN is empty.
func openArchive(ctx context.Context, cfg config.Config) archive.Store {
	if cfg.ArchiveDSN == "" {
		logrus.Warn("ARCHIVE_DSN not set, archiving to memory")
		return memory.NewArchiveStore()
	}
	adb, err := database.OpenArchive(ctx, cfg.ArchiveDSN)
	if err != nil {
		logrus.Fatal(err)
	}
	if err := database.MigrateArchive(ctx, adb); err != nil {
		logrus.Fatal(err)
	}
	return repository.NewArchiveRepo(adb)
}

// newCache prefers Redis and falls back to process memory when caching is
// disabled or Redis is unreachable.
func newCache(cfg config.Config, rdb *redis.Client) cache.Cache {
	if cfg.Cache.Enabled && rdb != nil {
		return cache.NewRedisCache(rdb, cfg.Cache.Prefix, cfg.Cache.TTL)
	}
	logrus.WithField("redis", rdb != nil).Info("using in-process list cache")
	return cache.NewMemoryCache(cfg.Cache.TTL, nil)
}
