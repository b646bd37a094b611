package configwatcher

import (
	"time"

	"github.com/MikeHennessy/suntrack/pkg/log"
)

// Option configures a Plugin.
type Option func(*Plugin)

// WithConfig applies a Config. Zero fields keep their defaults.
//
// Usage:
//
//	w := configwatcher.New(path, reload, configwatcher.WithConfig(configwatcher.Config{
//	    DebounceDelay: 250 * time.Millisecond,
//	}))
func WithConfig(cfg Config) Option {
	return func(p *Plugin) {
		if cfg.DebounceDelay > 0 {
			p.debounceDelay = cfg.DebounceDelay
		}
	}
}

// WithDebounceDelay sets the debounce delay.
func WithDebounceDelay(d time.Duration) Option {
	return WithConfig(Config{DebounceDelay: d})
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(p *Plugin) { p.logger = log.OrNoop(l) }
}
