package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/relicwatch/relicwatch/agent/internal/config"
	"github.com/relicwatch/relicwatch/agent/internal/scraper"
	"github.com/relicwatch/relicwatch/agent/internal/shipper"
)

type gateway struct {
	src config.Source
	s   scraper.Scraper
}

func main() {
	configPath := flag.String("config", "config/agent.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("relicwatch-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"server_url", cfg.Agent.ServerURL,
		"sources", len(cfg.Agent.Sources),
		"poll_interval", cfg.Agent.PollInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var gateways atomic.Pointer[[]gateway]
	gateways.Store(buildGateways(cfg.Agent.Sources))

	// Hot reload swaps the gateway set. Server, buffer and poll settings
	// need a restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			gateways.Store(buildGateways(updated.Agent.Sources))
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	ship, err := shipper.New(cfg.Agent)
	if err != nil {
		slog.Error("failed to build shipper", "err", err)
		os.Exit(1)
	}
	go ship.Run(ctx)

	ticker := time.NewTicker(cfg.Agent.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("relicwatch-agent shutting down")
			return
		case <-ticker.C:
			for _, g := range *gateways.Load() {
				b, err := g.s.Scrape(ctx)
				if err != nil {
					slog.Warn("scrape error", "source", g.src.ID, "err", err)
					continue
				}
				if b == nil {
					continue
				}
				ship.Ship(b)
				slog.Debug("queued batch", "source", g.src.ID, "readings", b.Readings)
			}
		}
	}
}

func buildGateways(sources []config.Source) *[]gateway {
	out := make([]gateway, 0, len(sources))
	for _, src := range sources {
		s, err := scraper.New(src)
		if err != nil {
			slog.Error("skipping source, could not build scraper", "source", src.ID, "err", err)
			continue
		}
		out = append(out, gateway{src: src, s: s})
		slog.Info("registered source", "id", src.ID, "format", src.Format, "endpoint", src.Endpoint)
	}
	if len(out) == 0 {
		slog.Warn("no sources configured, agent will idle")
	}
	return &out
}
