// cmd/custodyd/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-custody/internal/api"
	"github.com/rovshanmuradov/solana-custody/internal/audit"
	"github.com/rovshanmuradov/solana-custody/internal/chain"
	"github.com/rovshanmuradov/solana-custody/internal/config"
	"github.com/rovshanmuradov/solana-custody/internal/custody"
	"github.com/rovshanmuradov/solana-custody/internal/logger"
	"github.com/rovshanmuradov/solana-custody/internal/ratelimit"
	"github.com/rovshanmuradov/solana-custody/internal/signer"
	"github.com/rovshanmuradov/solana-custody/internal/wallet"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		LogFile:     cfg.LogFile,
		Development: cfg.DebugLogging,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting custody service",
		zap.Int("rpc_endpoints", len(cfg.RPCList)),
		zap.String("listen_addr", cfg.ListenAddr))

	client := chain.NewRPCClient(cfg.RPCList[0], log.Logger)
	sgn := signer.NewHTTPSigner(cfg.SignerURL, cfg.SignerToken, log.Logger)

	// Redis gives cross-instance wallet leases and rate limits. Without it
	// the lock is process-local and limiting is off: single-instance only.
	var (
		locker  wallet.Locker
		limiter custody.RateLimiter
	)
	if cfg.RedisAddr != "" {
		redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatal("redis unreachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer redisClient.Close()
		locker = wallet.NewRedisLocker(redisClient, cfg.LockTTL(), log.Logger)
		limiter = ratelimit.NewLimiter(redisClient, cfg.RateLimit, log.Logger)
	} else {
		log.Warn("redis not configured, using in-process wallet locks and no rate limiting")
		locker = wallet.NewMemoryLocker()
	}

	var store audit.Store
	if cfg.PostgresURL != "" {
		store, err = audit.NewStorage(cfg.PostgresURL, log.Logger)
		if err != nil {
			log.Fatal("failed to initialize audit storage", zap.Error(err))
		}
	} else {
		log.Warn("postgres not configured, audit trail is in-memory only")
		store = audit.NewMemoryStore()
	}

	svc := custody.New(cfg, client, sgn, locker, limiter, audit.NewLogger(store, log.Logger), log.Logger)
	server := api.NewServer(cfg.ListenAddr, svc, log.Logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	log.Info("custody service stopped")
}
