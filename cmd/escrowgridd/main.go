package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/escrowgrid/core/pkg/api"
	"github.com/escrowgrid/core/pkg/attestation"
	"github.com/escrowgrid/core/pkg/audit"
	"github.com/escrowgrid/core/pkg/config"
	"github.com/escrowgrid/core/pkg/decision"
	"github.com/escrowgrid/core/pkg/event"
	"github.com/escrowgrid/core/pkg/federation"
	"github.com/escrowgrid/core/pkg/observability"
	"github.com/escrowgrid/core/pkg/readiness"
	"github.com/escrowgrid/core/pkg/reputation"

	_ "github.com/lib/pq" // Postgres Driver
)

func main() {
	if err := run(); err != nil {
		slog.Error("daemon exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if cfg.NodeID == "" {
		return errors.New("NODE_ID is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "escrowgrid-node",
		ServiceVersion: "1.0.0",
		Environment:    os.Getenv("ENVIRONMENT"),
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        os.Getenv("OTLP_ENDPOINT") != "",
		Insecure:       os.Getenv("OTLP_INSECURE") == "true",
	})
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	deps, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	guard, err := federation.NewGuard()
	if err != nil {
		return fmt.Errorf("guard: %w", err)
	}

	// The memory logger feeds evidence-pack exports; the stdout logger is
	// the durable trail via log shipping.
	auditTrail := audit.NewMemoryLogger()
	gateway := federation.NewGateway(deps.registry, deps.attestations, guard,
		audit.Multi(audit.NewLogger(), auditTrail), slog.Default())

	readinessCfg := readiness.DefaultConfig()
	if cfg.ReadinessConfigPath != "" {
		readinessCfg, err = readiness.LoadConfig(cfg.ReadinessConfigPath)
		if err != nil {
			return err
		}
	}
	machine := readiness.NewMachine(deps.attestations, readinessCfg)
	builder := decision.NewBuilder(deps.ledger)

	snapshots := deps.snapshots
	if cfg.RedisAddr != "" {
		cache := reputation.NewRedisSnapshotCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		snapshots = reputation.NewCachedSnapshotStore(snapshots, cache)
	}

	engine := reputation.NewEngine(deps.attestations)
	sweeper := reputation.NewSweeper(engine, snapshots, deps.nodeLister, slog.Default())
	go runSweepLoop(ctx, sweeper, cfg.SweepInterval)

	var validator *api.JWTValidator
	if cfg.JWTSecret != "" {
		validator = api.NewHMACValidator([]byte(cfg.JWTSecret))
	} else {
		slog.Warn("JWT_SECRET not set; all authenticated endpoints will reject")
	}

	server := api.NewServer(gateway, deps.registry, deps.attestations, snapshots, machine, builder, slog.Default()).
		WithAuditExporter(audit.NewExporter(auditTrail))
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(validator, deps.idempotency),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("escrowgrid node listening", "node_id", cfg.NodeID, "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// stores bundles the persistence layer behind either backend.
type stores struct {
	db           *sql.DB
	attestations attestation.Store
	ledger       event.Ledger
	registry     federation.Registry
	nodeLister   reputation.NodeLister
	snapshots    reputation.SnapshotStore
	idempotency  api.IdempotencyStorer
}

func (s *stores) close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

// buildStores opens Postgres when DATABASE_URL is set, otherwise the
// embedded SQLite file. The registry and snapshot store are in-memory in
// SQLite mode; single-process deployments re-register peers at boot.
func buildStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}

		attStore := attestation.NewPostgresStore(db)
		ledger := event.NewPostgresLedger(db)
		registry := federation.NewPostgresRegistry(db)
		snapshots := reputation.NewPostgresSnapshotStore(db)
		idem := api.NewPostgresIdempotencyStore(db, time.Hour)

		for _, init := range []func(context.Context) error{
			attStore.Init, ledger.Init, registry.Init, snapshots.Init,
		} {
			if err := init(ctx); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		if err := idem.Init(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate idempotency: %w", err)
		}

		return &stores{
			db:           db,
			attestations: attStore,
			ledger:       ledger,
			registry:     registry,
			nodeLister:   registry,
			snapshots:    snapshots,
			idempotency:  idem,
		}, nil
	}

	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	attStore, err := attestation.NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite attestations: %w", err)
	}
	ledger, err := event.NewSQLiteLedger(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ledger: %w", err)
	}

	registry := federation.NewMemoryRegistry()
	return &stores{
		db:           db,
		attestations: attStore,
		ledger:       ledger,
		registry:     registry,
		nodeLister:   registry,
		snapshots:    reputation.NewMemorySnapshotStore(),
		idempotency:  api.NewIdempotencyStore(time.Hour),
	}, nil
}

func runSweepLoop(ctx context.Context, sweeper *reputation.Sweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := sweeper.SweepActiveNodes(ctx)
			if err != nil {
				slog.Error("reputation sweep aborted", "error", err)
				continue
			}
			slog.Info("reputation sweep complete",
				"computed", len(report.Computed), "failed", len(report.Failed))
		}
	}
}

func setupLogging(level string) {
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
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
