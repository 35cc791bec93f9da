package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Reloadable is the subset of Config that is safe to change while the
// process runs. Identity settings (listener addresses, transport choice)
// require a restart and are deliberately excluded.
type Reloadable struct {
	Reconnect Reconnect
	Stream    Stream
	LogLevel  string
}

func (c *Config) reloadable() Reloadable {
	return Reloadable{
		Reconnect: c.Client.Reconnect,
		Stream:    c.Stream,
		LogLevel:  c.LogLevel,
	}
}

// Watch observes the loaded config file and calls onChange with the
// re-parsed reloadable subset each time the file is rewritten. It blocks
// until ctx is cancelled. Editors that replace the file (rename + create)
// are handled by watching the directory rather than the file itself.
func Watch(ctx context.Context, v *viper.Viper, logger *slog.Logger, onChange func(Reloadable)) error {
	path := v.ConfigFileUsed()
	if path == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	// Debounce: editors commonly emit a burst of events per save.
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = time.After(200 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("CONFIG_WATCH_ERROR", slog.Any("err", err))

		case <-pending:
			pending = nil
			if err := v.ReadInConfig(); err != nil {
				logger.Warn("CONFIG_RELOAD_FAILED", slog.Any("err", err))
				continue
			}
			next := &Config{}
			if err := v.Unmarshal(next); err != nil {
				logger.Warn("CONFIG_RELOAD_FAILED", slog.Any("err", err))
				continue
			}
			if err := next.Validate(); err != nil {
				logger.Warn("CONFIG_RELOAD_REJECTED", slog.Any("err", err))
				continue
			}
			logger.Info("CONFIG_RELOADED", slog.String("file", path))
			onChange(next.reloadable())
		}
	}
}
