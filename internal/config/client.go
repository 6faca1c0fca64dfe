package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/binlink/internal/link"
)

// Client is the resolved linkctl configuration.
type Client struct {
	Addr string
	// URL selects the WebSocket transport when set.
	URL         string
	MaxAttempts int
	Link        link.Config
}

func DefaultClient() Client {
	cfg := link.DefaultConfig()
	cfg.BaseName = "linkctl"
	return Client{Addr: "127.0.0.1:7400", MaxAttempts: 3, Link: cfg}
}

type ClientFile struct {
	Addr        string   `toml:"addr" comment:"linkd address for tcp and tls dials"`
	URL         string   `toml:"url" comment:"ws:// or wss:// endpoint; overrides addr when set"`
	MaxAttempts int      `toml:"max_attempts" comment:"dial attempts before giving up; 0 retries forever"`
	Link        LinkFile `toml:"link"`
}

func clientFileFrom(cfg Client) ClientFile {
	return ClientFile{Addr: cfg.Addr, URL: cfg.URL, MaxAttempts: cfg.MaxAttempts, Link: linkFileFrom(cfg.Link)}
}

// LoadClient reads linkctl.toml over DefaultClient.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	var raw ClientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Client{}, fmt.Errorf("load linkctl config: %w", err)
	}
	o := &overlay{meta: meta}
	o.str(&cfg.Addr, raw.Addr, "addr")
	o.str(&cfg.URL, raw.URL, "url")
	setIf(o, &cfg.MaxAttempts, raw.MaxAttempts, "max_attempts")
	if err := applyLink(meta, raw.Link, &cfg.Link); err != nil {
		return Client{}, fmt.Errorf("load linkctl config: %w", err)
	}
	if strings.TrimSpace(cfg.Addr) == "" && strings.TrimSpace(cfg.URL) == "" {
		return Client{}, fmt.Errorf("load linkctl config: addr or url is required")
	}
	if err := cfg.Link.Transport.ValidateClient(); err != nil {
		return Client{}, fmt.Errorf("load linkctl config: %w", err)
	}
	return cfg, nil
}
