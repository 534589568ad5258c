package config

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"

	"github.com/relicwatch/relicwatch/server/internal/threshold"
)

// Watch monitors path for changes and calls onChange with the newly loaded
// Config each time the file is written or replaced. It runs until ctx is
// cancelled.
//
// The parent directory is watched so that editors saving through a rename
// are seen. If a reload fails the error is logged, onChange is not called
// and the previous config stays in effect.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	slog.Info("config: watching for changes", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(abs)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", abs, "err", err)
				continue
			}

			slog.Info("config: reloaded", "path", abs)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// RegisterNewThresholds registers every threshold in cfg whose sensor type
// reg does not know yet and returns the added types in order. Rules for
// known types are immutable; a changed value for one is logged and ignored.
func RegisterNewThresholds(reg *threshold.Registry, cfg *Config) []string {
	rules := cfg.ThresholdRules()
	sensorTypes := make([]string, 0, len(rules))
	for st := range rules {
		sensorTypes = append(sensorTypes, st)
	}
	sort.Strings(sensorTypes)

	var added []string
	for _, st := range sensorTypes {
		rule := rules[st]
		err := reg.Register(st, rule.Min, rule.Max)
		switch {
		case err == nil:
			added = append(added, st)
			slog.Info("config: threshold registered", "sensor_type", st, "min", rule.Min, "max", rule.Max)
		case errors.Is(err, threshold.ErrRuleExists):
			if cur, _ := reg.Lookup(st); cur != rule {
				slog.Warn("config: threshold change ignored, rules are immutable once registered",
					"sensor_type", st, "min", rule.Min, "max", rule.Max)
			}
		default:
			slog.Error("config: threshold rejected", "sensor_type", st, "err", err)
		}
	}
	return added
}
