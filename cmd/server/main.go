// Command appstore-server serves the client store API over HTTP and the admin API over gRPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/appstore/internal/auth"
	"github.com/and161185/appstore/internal/config"
	"github.com/and161185/appstore/internal/limiter"
	"github.com/and161185/appstore/internal/metrics"
	"github.com/and161185/appstore/internal/migrate"
	"github.com/and161185/appstore/internal/reaper"
	"github.com/and161185/appstore/internal/repository/postgres"
	grpcserver "github.com/and161185/appstore/internal/server/grpc"
	httpserver "github.com/and161185/appstore/internal/server/http"
	"github.com/and161185/appstore/internal/service"
	"github.com/and161185/appstore/internal/signer"
	"github.com/and161185/appstore/internal/storage/localfs"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc", cfg.GRPCAddr),
		zap.Bool("noSecurity", cfg.NoSecurity),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ver, err := migrate.Up(ctx, cfg.DSN, logger)
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	logger.Info("schema ready", zap.Int64("version", ver))

	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	packages, err := localfs.New(cfg.PackagesDir())
	if err != nil {
		return err
	}
	icons, err := localfs.New(cfg.IconsDir())
	if err != nil {
		return err
	}
	downloads, err := localfs.New(cfg.DownloadsDir())
	if err != nil {
		return err
	}

	var sg *signer.Signer
	if !cfg.NoSecurity {
		key, err := signer.LoadKey(cfg.SigningScheme, cfg.SigningKeyFile, []byte(cfg.SigningKeyPassphrase))
		if err != nil {
			return err
		}
		pub, err := key.PublicKeyBase64()
		if err != nil {
			return err
		}
		sg = signer.New(key)
		logger.Info("signing enabled", zap.String("scheme", key.Algorithm()), zap.String("publicKey", pub))
	}

	m := metrics.New()
	appRepo := postgres.NewAppRepo(db)
	catRepo := postgres.NewCategoryRepo(db)
	dlRepo := postgres.NewDownloadRepo(db)

	catalog := service.NewCatalogService(appRepo, catRepo, packages, icons, cfg.MaxPackageSize, logger.Named("catalog"), m)
	categories := service.NewCategoryService(catRepo, logger.Named("categories"))
	dist := service.NewDistributionService(appRepo, dlRepo, packages, downloads, sg, service.DistributionConfig{
		BaseURL:      cfg.BaseURL,
		TTL:          cfg.DownloadTTL(),
		BindToDevice: cfg.BindToDeviceID,
		NoSecurity:   cfg.NoSecurity,
		FetchOnce:    cfg.FetchOnce,
	}, time.Now, logger.Named("downloads"), m)

	verifier := auth.NewVerifier([]byte(cfg.JWTKey))

	// Client HTTP API
	router := httpserver.NewRouter(&httpserver.Handler{
		Catalog:    catalog,
		Categories: categories,
		Downloads:  dist,
		Platform: httpserver.Platform{
			ID:          cfg.PlatformID,
			Version:     cfg.PlatformVersion,
			Maintenance: cfg.Maintenance,
		},
		Log: logger.Named("http"),
	}, verifier, m, logger.Named("http"))
	hs := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Admin gRPC API; uploads travel base64 encoded inside JSON
	opts := []grpc.ServerOption{grpc.MaxRecvMsgSize(int(cfg.MaxPackageSize/3*4) + 1<<20)}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("admin gRPC without TLS")
	}
	lim := limiter.NewPG(db.Pool, limiter.DefaultWindow, limiter.DefaultMaxFails, limiter.DefaultBlockFor, nil)
	gs, health := grpcserver.NewGRPCServer(
		grpcserver.New(catalog, categories, dist, time.Now, logger.Named("admin")),
		verifier, lim, logger.Named("grpc"), opts...)
	if cfg.Dev {
		reflection.Register(gs)
	}

	sched, err := reaper.New(reaper.Multi{dist, reaper.Func(catalog.SweepTemps)}, cfg.DownloadTTL(), logger.Named("reaper"))
	if err != nil {
		return fmt.Errorf("reaper: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening (gRPC)", zap.String("addr", cfg.GRPCAddr))
		return gs.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("listening (HTTP)", zap.String("addr", cfg.HTTPAddr))
		if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	sched.Start()
	g.Go(func() error {
		<-gctx.Done()
		health.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = hs.Shutdown(sctx)

		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-sctx.Done():
			gs.Stop()
		}
		if err := sched.Stop(sctx); err != nil {
			logger.Warn("reaper still running at shutdown", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}
