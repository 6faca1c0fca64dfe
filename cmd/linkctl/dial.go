package main

import (
	"context"
	"strings"

	"github.com/danmuck/binlink/internal/config"
	"github.com/danmuck/binlink/internal/link"
	logs "github.com/danmuck/binlink/internal/logging"
	"github.com/danmuck/binlink/internal/observability"
)

func loadClientConfig(opts *globalOptions) (config.Client, error) {
	cfg := config.DefaultClient()
	if path := strings.TrimSpace(opts.configPath); path != "" {
		loaded, err := config.LoadClient(path)
		if err != nil {
			return config.Client{}, err
		}
		cfg = loaded
	}
	if opts.addr != "" {
		cfg.Addr = opts.addr
		cfg.URL = ""
	}
	if opts.url != "" {
		cfg.URL = opts.url
	}
	return cfg, nil
}

// connect dials the configured endpoint with the client's retry budget.
func connect(ctx context.Context, opts *globalOptions, hooks link.Hooks) (*link.Conn, error) {
	observability.InitLogger("linkctl")
	cfg, err := loadClientConfig(opts)
	if err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return link.DialRetry(ctx, cfg.Addr, cfg.MaxAttempts, cfg.Link, hooks)
	}
	backoff := link.NewBackoff(cfg.Link.WithDefaults().Backoff)
	for {
		c, err := link.DialWebSocket(ctx, cfg.URL, cfg.Link, hooks)
		if err == nil {
			return c, nil
		}
		logs.Warnf("linkctl.connect attempt=%d url=%q err=%v", backoff.Attempt()+1, cfg.URL, err)
		if cfg.MaxAttempts > 0 && backoff.Attempt()+1 >= cfg.MaxAttempts {
			return nil, err
		}
		if err := backoff.Wait(ctx); err != nil {
			return nil, err
		}
	}
}
