package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Meterline-Labs/meterline/pkg/api"
	"github.com/Meterline-Labs/meterline/pkg/audit"
	"github.com/Meterline-Labs/meterline/pkg/bank"
	"github.com/Meterline-Labs/meterline/pkg/config"
	"github.com/Meterline-Labs/meterline/pkg/crypto"
	"github.com/Meterline-Labs/meterline/pkg/guard"
	"github.com/Meterline-Labs/meterline/pkg/observability"
	"github.com/Meterline-Labs/meterline/pkg/proof"
	"github.com/Meterline-Labs/meterline/pkg/registry"
	"github.com/Meterline-Labs/meterline/pkg/session"
	"github.com/Meterline-Labs/meterline/pkg/settle"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	var profile *config.Profile
	if cfg.ProfilePath != "" {
		p, err := config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			log.Fatalf("load profile %s: %v", cfg.ProfilePath, err)
		}
		p.Apply(cfg)
		profile = p
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// Stores. DATABASE_URL switches everything durable to Postgres;
	// otherwise the process runs on in-memory stores.
	var (
		sessionStore session.Store
		bankStore    bank.Store
		replayGuard  proof.ReplayGuard
		recordStore  proof.RecordStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("ping postgres: %v", err)
		}
		ss := session.NewPostgresStore(db)
		if err := ss.Init(ctx); err != nil {
			log.Fatalf("init session store: %v", err)
		}
		bs := bank.NewPostgresStore(db)
		if err := bs.Init(ctx); err != nil {
			log.Fatalf("init balance store: %v", err)
		}
		rs := proof.NewPostgresRecordStore(db)
		if err := rs.Init(ctx); err != nil {
			log.Fatalf("init proof record store: %v", err)
		}
		rg := proof.NewPostgresReplayGuard(db)
		if err := rg.Init(ctx); err != nil {
			log.Fatalf("init replay guard: %v", err)
		}
		sessionStore, bankStore, recordStore, replayGuard = ss, bs, rs, rg
		logger.Info("postgres stores ready")
	} else {
		logger.Info("DATABASE_URL not set, running on in-memory stores")
		sessionStore = session.NewMemoryStore()
		bankStore = bank.NewMemoryStore()
		recordStore = proof.NewMemoryRecordStore()
		replayGuard = proof.NewMemoryReplayGuard()
	}

	// Redis replaces whichever replay guard the store selection picked.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("parse redis url: %v", err)
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("ping redis: %v", err)
		}
		replayGuard = proof.NewRedisReplayGuard(client, "meterline:proofs")
		logger.Info("redis replay guard ready")
	}

	signer, err := loadSigner(cfg.SigningSeed)
	if err != nil {
		log.Fatalf("init receipt signer: %v", err)
	}
	logger.Info("receipt signing key loaded", "public_key", signer.PublicKey())

	providers := map[string]string{}
	if profile != nil && profile.Providers != nil {
		providers = profile.Providers
	}
	reg := registry.NewStatic(providers)

	var archive settle.Archive = settle.NewMemoryArchive()
	if cfg.ReceiptArchivePath != "" {
		sa, err := settle.OpenSQLiteArchive(cfg.ReceiptArchivePath)
		if err != nil {
			log.Fatalf("open receipt archive: %v", err)
		}
		defer sa.Close()
		archive = sa
		logger.Info("sqlite receipt archive ready", "path", cfg.ReceiptArchivePath)
	}

	bankSvc := bank.New(bankStore, nil, logger)
	verifier := proof.NewVerifier(replayGuard, recordStore)
	ledger := session.NewLedger(sessionStore, bankSvc, reg, verifier, cfg.MinDeposit, nil, logger)
	auditLog := audit.NewLog()
	engine := settle.NewEngine(ledger, bankSvc, signer, archive, auditLog, settle.Config{
		FeeRateBps:    cfg.FeeRateBps,
		DisputeWindow: cfg.DisputeWindow,
		Arbiter:       cfg.Arbiter,
	}, nil, logger)
	accessGuard := guard.New(cfg.Operator, logger)

	sweeper := settle.NewSweeper(engine, ledger, cfg.SweepInterval, cfg.AbandonGrace, 100, logger)
	if err := sweeper.Start(ctx); err != nil {
		log.Fatalf("start sweeper: %v", err)
	}
	defer sweeper.Stop()

	var obs *observability.Provider
	if cfg.OTLPEndpoint != "" {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obs, err = observability.New(ctx, obsCfg)
		if err != nil {
			log.Fatalf("init observability: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := obs.Shutdown(shutdownCtx); err != nil {
				logger.Warn("observability shutdown", "error", err)
			}
		}()
	}

	server := api.New(ledger, engine, bankSvc, accessGuard, logger)
	handler := server.Handler(api.Options{
		Validator:     api.NewJWTValidator(cfg.JWTSecret),
		RateLimiter:   api.NewRateLimiter(20, 40),
		Observability: obs,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("meterlined listening", "port", cfg.Port)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("meterlined stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func loadSigner(seedHex string) (*crypto.Ed25519Signer, error) {
	if seedHex != "" {
		return crypto.NewEd25519SignerFromSeed(seedHex, "receipts")
	}
	// Ephemeral key. Receipts from this run cannot be verified after a
	// restart, which is fine for development but not for deployments.
	return crypto.NewEd25519Signer("receipts")
}
