// SPDX-License-Identifier: Apache-2.0

// Command toolbroker is the broker's single composition root (spec.md
// §9): it wires configuration, persistence, sandboxing, the skill
// store, the upstream multiplexer, and the execution engine together
// behind the meta-tool façade, then serves it over stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/labiium/skills/pkg/config"
	"github.com/labiium/skills/pkg/execengine"
	"github.com/labiium/skills/pkg/facade"
	"github.com/labiium/skills/pkg/persistence"
	"github.com/labiium/skills/pkg/registry"
	"github.com/labiium/skills/pkg/sandbox"
	"github.com/labiium/skills/pkg/skills"
	"github.com/labiium/skills/pkg/telemetry"
	"github.com/labiium/skills/pkg/upstream"
)

const serviceName = "toolbroker"

func main() {
	configPath := flag.String("config", "", "path to broker config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "toolbroker:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdownTelemetry, err := telemetry.Init(serviceName, version())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	reg := registry.New()

	skillsStore, err := skills.NewStore(cfg.Paths.SkillsRoot)
	if err != nil {
		return fmt.Errorf("open skills store: %w", err)
	}
	if err := seedSkills(reg, skillsStore, logger); err != nil {
		return fmt.Errorf("seed skills: %w", err)
	}

	store, err := openPersistence(cfg.Persistence, cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("open persistence: %w", err)
	}
	defer func() {
		if store != nil {
			_ = store.Close()
		}
	}()

	sandboxes := sandbox.NewRegistry(sandbox.Config{
		Backend:        cfg.Sandbox.Backend,
		MaxMemoryBytes: cfg.Sandbox.MaxMemoryBytes,
		MaxCPUSeconds:  cfg.Sandbox.MaxCPUSeconds,
		AllowRead:      cfg.Sandbox.AllowRead,
		AllowWrite:     cfg.Sandbox.AllowWrite,
		AllowNetwork:   cfg.Sandbox.AllowNetwork,
		DockerImage:    cfg.Sandbox.Docker.Image,
		DockerNetwork:  cfg.Sandbox.Docker.NetworkMode,
		AutoRemove:     cfg.Sandbox.Docker.AutoRemove,
	})

	mux := upstream.New(reg, logger)
	mux.Start(ctx, cfg.Upstreams)
	defer mux.Close()

	engine := execengine.New(reg, store, mux, sandboxes, skillsStore, logger)
	server := facade.NewServer(serviceName, version(), reg, engine, skillsStore, logger)

	logger.Info("toolbroker starting", "skills_root", cfg.Paths.SkillsRoot, "upstreams", len(cfg.Upstreams))
	return server.ServeStdio()
}

// seedSkills registers every skill already on disk before the façade
// starts accepting calls, mirroring how the upstream multiplexer
// enumerates a peer's tool catalog on connect.
func seedSkills(reg *registry.Registry, store *skills.Store, logger *slog.Logger) error {
	specs, err := store.List()
	if err != nil {
		return err
	}
	for _, spec := range specs {
		desc, err := facade.SkillDescriptor(spec)
		if err != nil {
			logger.Warn("skip invalid skill on startup scan", "name", spec.Name, "error", err)
			continue
		}
		if err := reg.Upsert(desc); err != nil {
			logger.Warn("skip skill descriptor on startup scan", "name", spec.Name, "error", err)
		}
	}
	return nil
}

func openPersistence(cfg config.PersistenceConfig, defaultPath string) (persistence.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	path := cfg.Database
	if path == "" {
		path = defaultPath
	}
	return persistence.OpenSQLiteStore(path)
}

// version is overridden at link time via -ldflags "-X main.buildVersion=...";
// it defaults to "dev" for local builds.
var buildVersion = "dev"

func version() string {
	return buildVersion
}
