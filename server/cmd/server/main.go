package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/alerts"
	"github.com/relicwatch/relicwatch/server/internal/api"
	"github.com/relicwatch/relicwatch/server/internal/auth"
	"github.com/relicwatch/relicwatch/server/internal/bus"
	"github.com/relicwatch/relicwatch/server/internal/config"
	"github.com/relicwatch/relicwatch/server/internal/dispatch"
	"github.com/relicwatch/relicwatch/server/internal/ingest"
	"github.com/relicwatch/relicwatch/server/internal/notify"
	"github.com/relicwatch/relicwatch/server/internal/parser"
	"github.com/relicwatch/relicwatch/server/internal/store"
	"github.com/relicwatch/relicwatch/server/internal/threshold"
	"github.com/relicwatch/relicwatch/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config/server.yaml", "path to config file; empty runs on built-in defaults")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("relicwatch-server starting",
		"config", *configPath,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"storage", cfg.Storage.Backend,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *configPath); err != nil {
		slog.Error("relicwatch-server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, configPath string) error {
	reg, err := threshold.NewWithDefaults(cfg.ThresholdRules())
	if err != nil {
		return err
	}

	alertStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Latest reading per sensor with background TTL eviction.
	readings := store.NewReadings(cfg.Readings.TTL)
	go readings.Run(ctx)

	hub := ws.New(activeAlerts{store: alertStore, limit: cfg.Alerts.QueryLimit}, cfg.WS.SnapshotInterval)
	go hub.Run(ctx)

	pusher, closePushers, err := openPushers(cfg, hub)
	if err != nil {
		return err
	}
	defer closePushers()

	notifier := notify.NewDispatcher(pusher, policies(cfg), notify.Config{
		AlertTopic:   cfg.Notify.AlertTopic,
		ReadingTopic: cfg.Notify.ReadingTopic,
		PushTimeout:  cfg.Notify.PushTimeout,
	})
	mgr := alerts.NewManager(alertStore, reg, notifier, alerts.Config{
		DedupActive: cfg.Alerts.DedupActive,
		QueryLimit:  cfg.Alerts.QueryLimit,
	})

	// Registration order is delivery order.
	subject := dispatch.NewSubject(dispatch.WithObserverTimeout(cfg.Dispatch.ObserverTimeout))
	subject.Register(readings)
	subject.Register(mgr)
	if cfg.Notify.BroadcastReadings {
		subject.Register(notify.NewReadingBroadcaster(notifier))
	}

	receiver := ingest.NewReceiver(
		parser.New(parser.JSONDecoder(time.Now), parser.ValidationStage(reg)),
		subject,
	)

	closeSources, err := startSources(ctx, cfg, receiver)
	if err != nil {
		return err
	}
	defer closeSources()

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(c *config.Config) {
				config.RegisterNewThresholds(reg, c)
			})
			if err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	handler := api.New(api.Deps{
		Alerts:   mgr,
		Rules:    reg,
		Readings: readings,
		Ingest:   receiver,
		Auth: auth.APIKey(
			cfg.Server.Auth.Mode,
			cfg.Server.Auth.EffectiveHeader(),
			cfg.Server.Auth.Key(),
		),
		Gatherer: prometheus.DefaultGatherer,
		Stream:   hub,
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	}

	slog.Info("relicwatch-server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// openStore returns the configured alert store and its close function.
func openStore(ctx context.Context, cfg *config.Config) (alerts.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		pg, err := store.NewPostgres(ctx, cfg.Storage.DSN())
		if err != nil {
			return nil, nil, err
		}
		slog.Info("alert store: postgres")
		return pg, pg.Close, nil
	default:
		mem := store.NewMemoryAlerts(cfg.Alerts.Retention)
		go mem.Run(ctx)
		slog.Info("alert store: memory", "retention", cfg.Alerts.Retention)
		return mem, func() {}, nil
	}
}

// openPushers fans notifications out to the hub plus any configured NATS
// publisher and webhooks.
func openPushers(cfg *config.Config, hub *ws.Hub) (notify.Pusher, func(), error) {
	ps := []notify.Pusher{hub}
	closeFn := func() {}

	if url := cfg.Notify.NATS.URL; url != "" {
		pub, err := bus.NewPublisher(url)
		if err != nil {
			return nil, nil, err
		}
		ps = append(ps, pub)
		closeFn = pub.Close
		slog.Info("notify: publishing to NATS", "url", url)
	}

	targets := make([]notify.WebhookTarget, 0, len(cfg.Notify.Webhooks))
	for _, w := range cfg.Notify.Webhooks {
		targets = append(targets, notify.WebhookTarget{Type: w.Type, URL: w.URL()})
	}
	if hooks := notify.NewWebhooks(targets, &http.Client{Timeout: cfg.Notify.PushTimeout}); hooks.Len() > 0 {
		ps = append(ps, hooks)
		slog.Info("notify: webhooks configured", "count", hooks.Len())
	}

	return notify.Pushers(ps...), closeFn, nil
}

func policies(cfg *config.Config) notify.Policy {
	var ps []notify.Policy
	if cfg.Notify.Cooldown > 0 {
		ps = append(ps, notify.NewCooldownPolicy(cfg.Notify.Cooldown))
	}
	if cfg.Notify.ReadingRate > 0 {
		ps = append(ps, notify.NewRateLimitPolicy(cfg.Notify.ReadingRate, cfg.Notify.ReadingBurst))
	}
	return notify.Policies(ps...)
}

// startSources launches the Kafka and NATS consumers that are enabled.
func startSources(ctx context.Context, cfg *config.Config, rcv *ingest.Receiver) (func(), error) {
	closeFn := func() {}

	if k := cfg.Ingest.Kafka; k.Enabled() {
		src, err := ingest.NewKafkaSource(ingest.KafkaConfig{
			Brokers: k.Brokers,
			Topics:  k.Topics,
			GroupID: k.GroupID,
			Workers: k.Workers,
		}, rcv.Handler("kafka"))
		if err != nil {
			return nil, err
		}
		go func() {
			if err := src.Run(ctx); err != nil {
				slog.Error("kafka source stopped", "err", err)
			}
		}()
	}

	if n := cfg.Ingest.NATS; n.Enabled() {
		sub, err := bus.NewSubscriber(n.URL)
		if err != nil {
			return nil, err
		}
		closeFn = sub.Close
		src, err := ingest.NewNATSSource(ingest.NATSConfig{
			Subjects: n.Subjects,
			Queue:    n.Queue,
		}, sub, rcv.Handler("nats"))
		if err != nil {
			sub.Close()
			return nil, err
		}
		go func() {
			if err := src.Run(ctx); err != nil {
				slog.Error("nats source stopped", "err", err)
			}
		}()
	}

	return closeFn, nil
}

// activeAlerts feeds the hub's periodic snapshots straight from the store so
// the hub can be built before the alert manager that pushes through it.
type activeAlerts struct {
	store alerts.Store
	limit int
}

func (a activeAlerts) ActiveAlerts(ctx context.Context) ([]types.Alert, error) {
	return a.store.QueryAlerts(ctx, types.AlertQuery{Status: types.AlertActive, Limit: a.limit})
}
