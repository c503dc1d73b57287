// Command stakebound runs the commitment enforcement daemon: the
// periodic jobs that move contracts through their lifecycle, settle
// stakes, and nudge users who are slipping.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/stakebound/core/pkg/config"
	"github.com/stakebound/core/pkg/contracts"
	"github.com/stakebound/core/pkg/drift"
	"github.com/stakebound/core/pkg/groups"
	"github.com/stakebound/core/pkg/ledger"
	"github.com/stakebound/core/pkg/lifecycle"
	"github.com/stakebound/core/pkg/locker"
	"github.com/stakebound/core/pkg/notify"
	"github.com/stakebound/core/pkg/observability"
	"github.com/stakebound/core/pkg/payment"
	"github.com/stakebound/core/pkg/scheduler"
	"github.com/stakebound/core/pkg/store"
	"github.com/stakebound/core/pkg/textgen"
)

func main() {
	if err := run(); err != nil {
		slog.Error("daemon exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	profile := config.DefaultProfile()
	if cfg.ProfilePath != "" {
		profile, err = config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			return fmt.Errorf("loading enforcement profile: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:    "stakebound",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.TelemetryEnabled,
		Insecure:       true,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	contractStore, lockStore, markerStore, db, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := telemetry.RegisterActiveContracts(func(ctx context.Context) (int64, error) {
		return contractStore.CountByStatus(ctx, contracts.StatusActive)
	}); err != nil {
		return fmt.Errorf("registering active contract gauge: %w", err)
	}

	jobLocker := locker.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	// TODO: swap the mock provider for the real payment integration
	// once the gateway contract is finalized.
	provider := payment.NewMockProvider()

	var gen textgen.Generator = textgen.StaticGenerator{}
	if cfg.LLMServiceURL != "" {
		gen = &textgen.FallbackGenerator{
			Primary:   textgen.NewHTTPGenerator(cfg.LLMServiceURL, 10*time.Second),
			Secondary: textgen.StaticGenerator{},
		}
	}

	notifier := notify.NewThrottledNotifier(&notify.LogNotifier{Log: log}, 10, 50)

	stakeLedger := ledger.NewStakeLedger(lockStore, provider, profile, log)
	engine := lifecycle.NewEngine(contractStore, stakeLedger, gen, notifier, profile, log)

	var progress drift.ProgressSource
	if cfg.GoalServiceURL != "" {
		progress = drift.NewHTTPProgressSource(cfg.GoalServiceURL, 10*time.Second)
		engine.WithProgressSource(progress)
	} else {
		log.Warn("goal service not configured, drift scan disabled")
		cfg.DriftScanInterval = 0
	}

	detector := drift.NewDetector(contractStore, markerStore, progress, gen, notifier, profile, log)
	resolver := groups.NewResolver(contractStore, markerStore, gen, notifier, log)

	jobs := scheduler.NewJobs(contractStore, markerStore, engine, detector, resolver, gen, notifier, profile, log)
	sched := scheduler.NewScheduler(jobs, jobLocker, cfg.LockTTL, telemetry, log)
	runner := scheduler.NewRunner(sched, *cfg, log)

	log.Info("stakebound daemon starting",
		"database", cfg.DatabaseDriver,
		"redis", cfg.RedisAddr,
		"lock_ttl", cfg.LockTTL)

	runner.Start(ctx)
	engine.Wait()
	log.Info("stakebound daemon stopped")
	return nil
}

func openStores(cfg *config.Config) (store.ContractStore, store.FundLockStore, store.MarkerStore, *sql.DB, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		// modernc sqlite is single-writer
		db.SetMaxOpenConns(1)
		return buildStores(db,
			store.NewSQLiteContractStore, store.NewSQLiteFundLockStore, store.NewSQLiteMarkerStore)

	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("opening postgres database: %w", err)
		}
		return buildStores(db,
			store.NewPostgresContractStore, store.NewPostgresFundLockStore, store.NewPostgresMarkerStore)

	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}

func buildStores(
	db *sql.DB,
	contracts func(*sql.DB) (*store.SQLContractStore, error),
	locks func(*sql.DB) (*store.SQLFundLockStore, error),
	markers func(*sql.DB) (*store.SQLMarkerStore, error),
) (store.ContractStore, store.FundLockStore, store.MarkerStore, *sql.DB, error) {
	cs, err := contracts(db)
	if err != nil {
		db.Close()
		return nil, nil, nil, nil, fmt.Errorf("initializing contract store: %w", err)
	}
	ls, err := locks(db)
	if err != nil {
		db.Close()
		return nil, nil, nil, nil, fmt.Errorf("initializing fund lock store: %w", err)
	}
	ms, err := markers(db)
	if err != nil {
		db.Close()
		return nil, nil, nil, nil, fmt.Errorf("initializing marker store: %w", err)
	}
	return cs, ls, ms, db, nil
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
