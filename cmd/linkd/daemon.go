package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/go-multierror"

	"github.com/danmuck/binlink/internal/admin"
	"github.com/danmuck/binlink/internal/auth"
	"github.com/danmuck/binlink/internal/config"
	"github.com/danmuck/binlink/internal/filesink"
	"github.com/danmuck/binlink/internal/link"
	"github.com/danmuck/binlink/internal/listener"
	logs "github.com/danmuck/binlink/internal/logging"
	"github.com/danmuck/binlink/internal/observability"
)

// EnvAdminToken overrides admin_token so the secret can stay out of the config file.
const EnvAdminToken = "BINLINK_ADMIN_TOKEN"

type daemonOptions struct {
	configPath  string
	addr        string
	adminAddr   string
	printConfig bool
}

func loadDaemonConfig(opts daemonOptions) (config.Daemon, error) {
	cfg := config.DefaultDaemon()
	if path := strings.TrimSpace(opts.configPath); path != "" {
		loaded, err := config.LoadDaemon(path)
		if err != nil {
			return config.Daemon{}, err
		}
		cfg = loaded
	}
	if opts.addr != "" {
		cfg.Listener.Addr = opts.addr
	}
	if opts.adminAddr != "" {
		cfg.AdminAddr = opts.adminAddr
	}
	if token := strings.TrimSpace(os.Getenv(EnvAdminToken)); token != "" {
		cfg.AdminToken = token
	}
	return cfg, config.ValidateDaemon(cfg)
}

func openSink(cfg config.Sink) (*filesink.Router, error) {
	var sink filesink.Sink
	switch cfg.Kind {
	case config.SinkNone:
		return nil, nil
	case config.SinkDisk:
		disk, err := filesink.NewDiskSink(cfg.Dir)
		if err != nil {
			return nil, err
		}
		sink = disk
	case config.SinkS3:
		s3Sink, err := filesink.NewS3Sink(filesink.NewS3Client(cfg.S3), cfg.S3)
		if err != nil {
			return nil, err
		}
		sink = s3Sink
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Kind)
	}
	return filesink.NewRouter(sink), nil
}

func runDaemon(parent context.Context, opts daemonOptions) error {
	if opts.printConfig {
		out, err := config.Template(config.KindDaemon)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}

	observability.InitLogger("linkd")
	observability.RegisterMetrics()
	cfg, err := loadDaemonConfig(opts)
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router, err := openSink(cfg.Sink)
	if err != nil {
		return err
	}
	l, err := listener.New(cfg.Listener, daemonHooks(router))
	if err != nil {
		return err
	}
	if err := l.Start(); err != nil {
		return err
	}

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(cfg.AdminAddr); addr != "" {
		srv := admin.New(cfg.Listener.Link.BaseName, l)
		if router != nil {
			srv.OpenFiles = router.Open
		}
		if cfg.AdminToken != "" {
			srv.Tokens = auth.StaticToken{Token: cfg.AdminToken}
		}
		go func() {
			adminErr <- srv.Run(ctx, addr)
		}()
	}

	var result *multierror.Error
	select {
	case <-ctx.Done():
	case err := <-adminErr:
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("admin: %w", err))
		}
	}
	logs.Infof("linkd.runDaemon stopping conns=%d", l.Len())
	if err := l.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	if router != nil {
		if err := router.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func daemonHooks(router *filesink.Router) link.Hooks {
	hooks := link.Hooks{
		OnRequest: handleRequest,
		OnEvent:   handleEvent,
		OnClosed: func(c *link.Conn, reason error) {
			logs.Debugf("linkd.conn closed conn=%q reason=%v", c.Name(), reason)
		},
	}
	if router != nil {
		hooks.OnBeginFile = router.BeginFile
		hooks.OnClosed = router.ConnClosed
	}
	return hooks
}
