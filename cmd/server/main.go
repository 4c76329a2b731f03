package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	adminhandler "schoolreg/internal/admin/handler"
	apphandler "schoolreg/internal/application/handler"
	appstore "schoolreg/internal/application/store"
	"schoolreg/internal/notification"
	"schoolreg/internal/platform/config"
	"schoolreg/internal/platform/database"
	"schoolreg/internal/platform/httpserver"
	"schoolreg/internal/platform/logger"
	platformredis "schoolreg/internal/platform/redis"
	"schoolreg/internal/provisioning"
	rmetrics "schoolreg/internal/review/metrics"
	reviewservice "schoolreg/internal/review/service"
	"schoolreg/internal/token"
	httptransport "schoolreg/internal/transport/http"
	vmetrics "schoolreg/internal/verification/metrics"
	"schoolreg/internal/verification/resendlimit"
	verificationservice "schoolreg/internal/verification/service"
	"schoolreg/internal/verification/sweeper"
)

// main wires dependencies and owns process lifecycle. Business logic lives in
// the internal services packages.
func main() {
	_ = godotenv.Load()

	cfg := config.FromEnv()
	log := logger.New()

	var (
		apps   appstore.Store
		tokens token.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgres(cfg)
		if err != nil {
			log.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := appstore.Migrate(context.Background(), db); err != nil {
			log.Error("schema migration failed", "error", err)
			os.Exit(1)
		}
		apps = appstore.NewPostgresStore(db)
		tokens = token.NewPostgresStore(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory storage")
		apps = appstore.NewInMemoryStore()
		tokens = token.NewInMemoryStore()
	}

	dispatcher := notification.NewAsyncDispatcher(notification.NewLogSender(log), log)

	verificationMetrics := vmetrics.New()
	verificationOpts := []verificationservice.Option{
		verificationservice.WithMetrics(verificationMetrics),
		verificationservice.WithTokenTTLs(cfg.ApplicantTokenTTL, cfg.PrincipalTokenTTL),
	}
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		verificationOpts = append(verificationOpts,
			verificationservice.WithResendLimiter(resendlimit.NewRedisLimiter(redisClient.Client, cfg.ResendCooldown, log)))
	}
	verification := verificationservice.NewService(apps, tokens, dispatcher, log, verificationOpts...)

	// TODO: swap InMemoryProvisioner for the tenant-service client once its
	// API is published.
	review := reviewservice.NewService(apps, provisioning.NewInMemoryProvisioner(), dispatcher, log,
		reviewservice.WithMetrics(rmetrics.New()),
		reviewservice.WithProvisionTimeout(cfg.ProvisionTimeout),
	)

	sweep := sweeper.New(apps, tokens, log,
		sweeper.WithSpec(cfg.SweepSpec),
		sweeper.WithMetrics(verificationMetrics),
	)

	router := httptransport.NewRouter(
		apphandler.New(verification, log),
		adminhandler.New(review, log),
		log,
	)
	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting schoolreg", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		if err := sweep.Start(); err != nil {
			return err
		}
		<-groupCtx.Done()
		sweep.Stop()
		return nil
	})

	group.Go(func() error {
		err := dispatcher.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
