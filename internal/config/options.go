package config

import (
	"time"

	"github.com/g-flame/airlink-panel/internal/persist"
	"github.com/g-flame/airlink-panel/internal/preload"
	"github.com/g-flame/airlink-panel/internal/router"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// RouterOptions maps the router section onto router.Options. Clock, client
// and logger are left for the caller.
func (c *Config) RouterOptions() router.Options {
	r := c.Router
	retries := r.MaxRetries
	if retries == 0 {
		// router.Options treats zero as "use the default".
		retries = -1
	}
	return router.Options{
		BaseURL:      r.BaseURL,
		Endpoint:     c.Server.Endpoint,
		MaxRetries:   retries,
		RetryBackoff: ms(r.RetryBackoffMS),
		Timeout:      ms(r.TimeoutMS),
		ErrorDismiss: ms(r.ErrorDismissMS),
	}
}

// PreloadOptions maps the preload section onto preload.Options.
func (c *Config) PreloadOptions() preload.Options {
	p := c.Preload
	return preload.Options{
		HoverDelay:    ms(p.HoverDelayMS),
		VisibleDelay:  ms(p.VisibleDelayMS),
		MaxConcurrent: p.MaxConcurrent,
		Capacity:      p.Capacity,
		EvictInterval: ms(p.EvictIntervalMS),
		Exclude:       p.Exclude,
	}
}

// PersistOptions turns the capability table overrides into store options.
func (c *Config) PersistOptions() ([]persist.Option, error) {
	var opts []persist.Option
	for kind, names := range c.Persist.Capabilities {
		caps, err := persist.Capabilities(names...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, persist.WithCapabilities(persist.Kind(kind), caps...))
	}
	return opts, nil
}
