package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/binlink/internal/link"
	"github.com/danmuck/binlink/internal/testutil/testlog"
	"github.com/danmuck/binlink/internal/transport"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDaemonDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "linkd.toml", `
addr = "127.0.0.1:7500"
admin_addr = ""

[link]
alive_period = "2s"
read_timeout = "7s"
workers = 3
handler_policy = "log"

[link.tls]
request_client_cert = true

[sink]
kind = "s3"

[sink.s3]
bucket = "received"
region = "eu-west-1"
`)
	cfg, err := LoadDaemon(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := DefaultDaemon()
	if cfg.Listener.Addr != "127.0.0.1:7500" {
		t.Fatalf("addr got=%q", cfg.Listener.Addr)
	}
	if cfg.AdminAddr != "" {
		t.Fatalf("admin addr got=%q want empty", cfg.AdminAddr)
	}
	l := cfg.Listener.Link
	if l.AlivePeriod != 2*time.Second || l.ReadTimeout != 7*time.Second || l.Workers != 3 {
		t.Fatalf("link overrides got alive=%s read=%s workers=%d", l.AlivePeriod, l.ReadTimeout, l.Workers)
	}
	if l.HandlerPolicy != link.HandlerPolicyLog {
		t.Fatalf("handler policy got=%q", l.HandlerPolicy)
	}
	if !l.Transport.TLS.RequestClientCert || l.Transport.TLS.Enabled {
		t.Fatalf("tls got=%+v", l.Transport.TLS)
	}
	if l.WriteTimeout != def.Listener.Link.WriteTimeout || l.BaseName != "linkd" {
		t.Fatalf("defaults not kept write=%s base=%q", l.WriteTimeout, l.BaseName)
	}
	if cfg.Listener.RestartDelay != def.Listener.RestartDelay {
		t.Fatalf("restart delay got=%s", cfg.Listener.RestartDelay)
	}
	if cfg.Sink.Kind != SinkS3 || cfg.Sink.S3.Bucket != "received" || cfg.Sink.S3.Region != "eu-west-1" {
		t.Fatalf("sink got=%+v", cfg.Sink)
	}
}

func TestLoadDaemonRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"malformed duration": "[link]\nread_timeout = \"eleven\"\n",
		"read inside alive":  "[link]\nalive_period = \"10s\"\nread_timeout = \"5s\"\n",
		"unknown policy":     "[link]\nhandler_policy = \"retry\"\n",
		"unknown sink":       "[sink]\nkind = \"tape\"\n",
		"s3 without bucket":  "[sink]\nkind = \"s3\"\n",
		"production no tls":  "[link]\nsecurity_mode = \"production\"\n",
		"not toml":           "addr = ",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadDaemon(writeFile(t, "linkd.toml", content)); err == nil {
				t.Fatalf("expected error for %q", content)
			}
		})
	}
	if _, err := LoadDaemon(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("missing file accepted")
	}
}

func TestLoadClient(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "linkctl.toml", `
url = "ws://127.0.0.1:7410/ws"
max_attempts = 0

[link]
security_mode = " Production "

[link.tls]
enabled = true
ca_file = "/etc/binlink/ca.pem"

[link.backoff]
initial = "100ms"
jitter = false
`)
	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.URL != "ws://127.0.0.1:7410/ws" || cfg.Addr != "127.0.0.1:7400" || cfg.MaxAttempts != 0 {
		t.Fatalf("client got=%+v", cfg)
	}
	if cfg.Link.Transport.SecurityMode != transport.SecurityModeProduction {
		t.Fatalf("security mode got=%q", cfg.Link.Transport.SecurityMode)
	}
	b := cfg.Link.Backoff
	if b.InitialDelay != 100*time.Millisecond || b.Jitter || b.MaxDelay != link.DefaultConfig().Backoff.MaxDelay {
		t.Fatalf("backoff got=%+v", b)
	}
	if cfg.Link.BaseName != "linkctl" {
		t.Fatalf("base name got=%q", cfg.Link.BaseName)
	}
}

func TestTemplatesLoadBackToDefaults(t *testing.T) {
	testlog.Start(t)
	daemon, err := Template(KindDaemon)
	if err != nil {
		t.Fatalf("daemon template: %v", err)
	}
	if !strings.Contains(daemon, "handler_policy = 'close'") || !strings.Contains(daemon, "# close or log") {
		t.Fatalf("daemon template missing policy:\n%s", daemon)
	}
	path := filepath.Join(t.TempDir(), "linkd.toml")
	if err := WriteTemplate(path, KindDaemon, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, KindDaemon, false); err == nil {
		t.Fatalf("existing file overwritten")
	}
	cfg, err := LoadDaemon(path)
	if err != nil {
		t.Fatalf("load rendered daemon config: %v", err)
	}
	if cfg.Listener.Link != DefaultDaemon().Listener.Link || cfg.Sink != DefaultDaemon().Sink {
		t.Fatalf("rendered daemon config drifted:\n%+v\n%+v", cfg.Listener.Link, DefaultDaemon().Listener.Link)
	}

	path = filepath.Join(t.TempDir(), "linkctl.toml")
	if err := WriteTemplate(path, KindClient, true); err != nil {
		t.Fatalf("write client template: %v", err)
	}
	client, err := LoadClient(path)
	if err != nil {
		t.Fatalf("load rendered client config: %v", err)
	}
	if client != DefaultClient() {
		t.Fatalf("rendered client config drifted: %+v", client)
	}
	if _, err := Template("seed"); err == nil {
		t.Fatalf("unknown kind accepted")
	}
}
