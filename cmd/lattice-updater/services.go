package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lattice-cms/updater/internal/config"
	"github.com/lattice-cms/updater/internal/coordinator"
	"github.com/lattice-cms/updater/internal/gateway"
	"github.com/lattice-cms/updater/internal/logging"
	"github.com/lattice-cms/updater/internal/migrate"
	"github.com/lattice-cms/updater/internal/negotiator"
	"github.com/lattice-cms/updater/internal/productcache"
	"github.com/lattice-cms/updater/internal/registry"
	"github.com/lattice-cms/updater/internal/repository"
	"github.com/lattice-cms/updater/internal/repository/postgres"
	"github.com/lattice-cms/updater/internal/signing"
)

// paramOldestInstall is the unix timestamp of the oldest known install,
// reported in the gateway fingerprint block.
const paramOldestInstall = "install.oldest"

// services is the wired object graph for one command invocation.
// Soft-singleton rebinding is deliberately absent: everything is plain
// constructor wiring.
type services struct {
	cfg         *config.Config
	db          *postgres.DB
	registry    *registry.Registry
	gateway     *gateway.Client
	engine      *migrate.Engine
	negotiator  *negotiator.Negotiator
	coordinator *coordinator.Coordinator
}

func buildServices(ctx context.Context) (*services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, nil)

	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	paramsRepo := postgres.NewParamsRepo(db)
	if err := paramsRepo.EnsureTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure params table: %w", err)
	}
	ledgerRepo := postgres.NewLedgerRepo(db, cfg.MigrationTable)

	// A project identifier persisted by a previous run wins over an
	// unset config value.
	if cfg.ProjectID == "" {
		if v, err := paramsRepo.Get(ctx, negotiator.ParamProjectID); err == nil {
			cfg.ProjectID = v
		}
	}

	reg, err := registry.Load(cfg.ManifestFile)
	if err != nil {
		db.Close()
		return nil, err
	}

	keyring, err := signing.LoadKeyring(cfg.PublicKeyFile)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load gateway keyring: %w", err)
	}

	identity := gateway.Identity{AppURL: cfg.AppURL}
	if raw, err := paramsRepo.Get(ctx, paramOldestInstall); err == nil {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			identity.OldestInstall = ts
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		db.Close()
		return nil, err
	}

	gw := gateway.New(cfg, identity, keyring)
	cache := productcache.New(filepath.Join(cfg.DataDir, "cache"), gw)
	engine := migrate.NewEngine(postgres.Execer{Pool: db.Pool}, ledgerRepo, reg, migrate.NewNotices())
	neg := negotiator.New(gw, paramsRepo, reg, cfg.DisableCoreUpdates)
	coord := coordinator.New(cfg, engine, ledgerRepo, paramsRepo, reg, cache, gw, os.Stdout)

	return &services{
		cfg:         cfg,
		db:          db,
		registry:    reg,
		gateway:     gw,
		engine:      engine,
		negotiator:  neg,
		coordinator: coord,
	}, nil
}

func (s *services) close() { s.db.Close() }

func withServices(ctx context.Context, fn func(context.Context, *services) error) error {
	s, err := buildServices(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

// runWatch checks for updates on the configured interval until a signal
// arrives. Checks inside the retry window are free: the negotiator
// answers from the persisted count without touching the gateway.
func runWatch(ctx context.Context, stop <-chan os.Signal) error {
	s, err := buildServices(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	log := logging.L("watch")
	interval := time.Duration(s.cfg.CheckIntervalHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("watching for updates", "interval", interval.String())
	for {
		count, err := s.negotiator.Check(ctx, false)
		if err != nil {
			log.Error("update check failed", logging.KeyError, err)
		} else if count > 0 {
			log.Info("updates available", "count", count)
		}

		select {
		case <-stop:
			log.Info("shutting down")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
