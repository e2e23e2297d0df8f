package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/yourorg/efile/internal/ack"
	"github.com/yourorg/efile/internal/credential"
	"github.com/yourorg/efile/internal/filing"
	"github.com/yourorg/efile/internal/mef"
	"github.com/yourorg/efile/internal/signing"
	"github.com/yourorg/efile/internal/submission"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env", "error", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if len(os.Args) == 3 && os.Args[1] == "hash-pin" {
		hash, err := credential.HashPIN(os.Args[2], credential.LoadConfig())
		if err != nil {
			logger.Error("hash pin", "error", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	if err := run(logger); err != nil {
		logger.Error("efiled stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := filing.LoadConfig()
	mefCfg := mef.LoadConfig()

	validator, err := mef.NewValidator(mefCfg)
	if err != nil {
		return err
	}
	registry, err := openRegistry(credential.LoadConfig())
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	client := submission.NewClient(submission.LoadConfig(), registry,
		submission.WithLogger(logger),
		submission.WithMetrics(submission.NewMetrics(reg)),
	)
	opts := []filing.Option{
		filing.WithLogger(logger),
		filing.WithMetrics(filing.NewMetrics(reg)),
		filing.WithAudit(filing.NewMemoryAuditRecorder()),
	}
	if cfg.ReceiptEnabled {
		opts = append(opts, filing.WithReceipts(filing.NewPDFReceiptRenderer(cfg)))
	}
	svc := filing.NewService(cfg, filing.Deps{
		Builder:   mef.NewBuilder(mefCfg),
		Validator: validator,
		Signer:    signing.NewSigner(registry, logger),
		Client:    client,
		Store:     store,
	}, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RefreshInterval > 0 {
		go refreshLoop(ctx, svc, cfg.RefreshInterval, logger)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           filing.NewHandler(svc, reg, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("efiled listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openRegistry(cfg credential.Config) (*credential.InMemoryRegistry, error) {
	if cfg.SeedFile == "" {
		return credential.NewInMemoryRegistry(), nil
	}
	return credential.LoadRegistryFile(cfg.SeedFile)
}

func openStore(cfg filing.Config, logger *slog.Logger) (ack.Store, func(), error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("acknowledgment store", "backend", "redis")
		return ack.NewRedisStore(client), func() { _ = client.Close() }, nil
	}
	store, err := ack.OpenFileStore(cfg.AckStorePath, ack.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	logger.Info("acknowledgment store", "backend", "file", "path", cfg.AckStorePath)
	return store, func() {}, nil
}

func refreshLoop(ctx context.Context, svc *filing.Service, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := svc.RefreshPending(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn("status refresh failed", "error", err)
				continue
			}
			if changed > 0 {
				logger.Info("acknowledgments refreshed", "changed", changed)
			}
		}
	}
}
