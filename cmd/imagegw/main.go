package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"imagegw/internal/adminapi"
	"imagegw/internal/config"
	"imagegw/internal/credentials"
	"imagegw/internal/limiter"
	"imagegw/internal/logging"
	"imagegw/internal/metrics"
	"imagegw/internal/retry"
	"imagegw/internal/server"
	"imagegw/internal/upstream"
	"imagegw/internal/version"
)

const requestLogCapacity = 1000

func main() {
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before the environment")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	cfg, err := config.Load(config.Options{EnvFile: *envFile})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	baseLogger, err := logging.NewLogger(string(cfg.LogLevel))
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	sugar := baseLogger.Sugar()
	sugar.Infow("starting", "build", version.BuildInfo())

	models := upstream.DefaultModelMap
	if cfg.ModelMapFile != "" {
		overrides, err := config.LoadModelMap(cfg.ModelMapFile)
		if err != nil {
			sugar.Fatalw("failed to load model map", "path", cfg.ModelMapFile, "error", err)
		}
		models = upstream.MergeModelMaps(upstream.DefaultModelMap, overrides)
	}

	credLogger := baseLogger.Named("credentials")
	invalid := credentials.LoadInvalidStore(cfg.InvalidKeysFile, credLogger)
	pool := credentials.NewPool(cfg.Credentials, invalid.Has)
	pool.OnSizeChange(metrics.SetActiveCredentials)
	metrics.SetActiveCredentials(pool.Size())
	sugar.Infow("credential pool ready",
		"configured", len(cfg.Credentials),
		"active", pool.Size(),
		"invalid", invalid.Len(),
	)
	if pool.Size() == 0 {
		sugar.Warnw("every configured credential is marked invalid; requests will be rejected",
			"invalid_keys_file", cfg.InvalidKeysFile)
	}

	pullFromRotation := func(added []string) {
		for _, key := range added {
			if pool.Remove(key) {
				metrics.ObserveInvalidCredential()
				credLogger.Warn("credential invalidated externally", zap.String("credential", credentials.Mask(key)))
			}
		}
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if cfg.WatchInvalidFile {
		if err := credentials.WatchInvalidFile(rootCtx, invalid, pullFromRotation, credLogger.Sugar().Infof); err != nil {
			sugar.Warnw("invalid credential watcher disabled", "error", err)
		}
	}

	sem := limiter.NewSemaphore(cfg.MaxConcurrent)
	sem.OnChange(metrics.SetConcurrency)

	orchestrator := &retry.Orchestrator{
		Pool:    pool,
		Invalid: invalid,
		Caller:  upstream.NewCaller(cfg.UpstreamURL, models, cfg.RequestTimeout, baseLogger.Named("upstream")),
		Policy: retry.Policy{
			MaxAttempts:            cfg.MaxRetries,
			BaseDelay:              cfg.RetryDelay(),
			InvalidConsumesAttempt: cfg.InvalidConsumesAttempt,
		},
		Logger: baseLogger.Named("retry"),
	}

	requestLog := logging.NewRequestLogStore(requestLogCapacity)
	gateway := &server.Gateway{
		Executor:   orchestrator,
		Pool:       pool,
		Limiter:    sem,
		AuthTokens: cfg.AuthTokens,
		RequestLog: requestLog,
		Logger:     baseLogger.Named("gateway"),
	}
	if !cfg.AuthEnabled() {
		sugar.Warnw("inbound authentication disabled (AUTH_TOKENS not set)")
	}

	mux := http.NewServeMux()
	mux.Handle("/", gateway)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())

	if cfg.AdminToken != "" {
		adminHandler := adminapi.NewHandler(pool, invalid, sem, requestLog, adminapi.Summary{
			UpstreamURL:            cfg.UpstreamURL,
			MaxRetries:             cfg.MaxRetries,
			RetryDelayMs:           cfg.RetryDelayMS,
			MaxConcurrentRequests:  cfg.MaxConcurrent,
			RequestTimeoutSeconds:  int(cfg.RequestTimeout / time.Second),
			InvalidKeysFile:        cfg.InvalidKeysFile,
			InvalidConsumesAttempt: cfg.InvalidConsumesAttempt,
			AuthEnabled:            cfg.AuthEnabled(),
		}, cfg.AdminToken, baseLogger.Named("admin"))
		adminHandler.OnInvalidReload = pullFromRotation
		mux.Handle("/admin/api/", http.StripPrefix("/admin/api", adminHandler))
	} else {
		sugar.Infow("admin api disabled (ADMIN_TOKEN not set)")
	}

	srv := &http.Server{
		Addr:        cfg.ListenAddr(),
		Handler:     server.RequestIDMiddleware(gateway.WithPreflight(mux)),
		ReadTimeout: 30 * time.Second,
		// Covers queueing for a permit plus every retry.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("imagegw listening",
			"addr", cfg.ListenAddr(),
			"upstream", cfg.UpstreamURL,
			"max_concurrent", cfg.MaxConcurrent,
			"max_retries", cfg.MaxRetries,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		sugar.Infow("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		sugar.Fatalw("server error", "error", err)
	}

	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		sugar.Fatalw("graceful shutdown failed", "error", err)
	}
	sugar.Infow("shutdown complete")
}
