package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/dentalops/dentalflow/internal/config"
	v1 "github.com/dentalops/dentalflow/internal/handler/v1"
	redisclient "github.com/dentalops/dentalflow/internal/redis"
	"github.com/dentalops/dentalflow/internal/repository"
	"github.com/dentalops/dentalflow/internal/scheduling"
	"github.com/dentalops/dentalflow/internal/service"
	"github.com/dentalops/dentalflow/pkg/auth"
	"github.com/dentalops/dentalflow/pkg/database"
	"github.com/dentalops/dentalflow/pkg/logger"
	"github.com/dentalops/dentalflow/pkg/metrics"
	"github.com/dentalops/dentalflow/pkg/tracer"
)

func main() {
	// Missing .env is fine in deployed environments; config comes from real
	// env vars there.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	zlog.Info("starting dentalflow api",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		zlog.Fatal("initializing tracer", zap.Error(err))
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		zlog.Fatal("connecting to database", zap.Error(err))
	}
	if err := database.Migrate(db, zlog); err != nil {
		zlog.Fatal("migrating database", zap.Error(err))
	}

	rdb, err := redisclient.New(cfg.Redis)
	if err != nil {
		zlog.Fatal("connecting to redis", zap.Error(err))
	}

	collector := metrics.NewCollector("dentalflow")
	verifier := auth.NewVerifier(cfg.JWT)
	locker := redisclient.NewCalendarLocker(rdb, cfg.Redis.LockTTL, zlog)

	apptRepo := repository.NewAppointmentGormRepository(db)
	availRepo := repository.NewAvailabilityGormRepository(db)
	auditRepo := repository.NewAuditGormRepository(db)

	auditSvc := service.NewAuditService(auditRepo, zlog)
	schedCfg := scheduling.Config{
		MinWalkInDuration:     cfg.Scheduling.MinWalkInDuration,
		MinRescheduleDuration: cfg.Scheduling.MinRescheduleDuration,
		DefaultVisitDuration:  cfg.Scheduling.DefaultVisitDuration,
	}
	schedSvc := service.NewSchedulingService(apptRepo, availRepo, locker, auditSvc, schedCfg, zlog)
	availSvc := service.NewAvailabilityService(availRepo, auditSvc, zlog)

	router := v1.NewRouter(v1.RouterDeps{
		Config:       cfg,
		Verifier:     verifier,
		Collector:    collector,
		Scheduling:   v1.NewSchedulingHandler(schedSvc, collector, zlog),
		Availability: v1.NewAvailabilityHandler(availSvc, zlog),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		zlog.Info("listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("http shutdown", zap.Error(err))
	}
	auditSvc.Shutdown()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		zlog.Error("tracer shutdown", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		zlog.Error("closing redis", zap.Error(err))
	}

	zlog.Info("stopped")
}
