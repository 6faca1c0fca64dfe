package transport

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danmuck/binlink/internal/testutil/testlog"
	"github.com/danmuck/binlink/internal/testutil/tlstest"
)

func TestPolicyValidation(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name      string
		policy    Policy
		clientErr error
		serverErr error
	}{
		{name: "plaintext development"},
		{
			name:      "bad mode",
			policy:    Policy{SecurityMode: "chaos"},
			clientErr: ErrInvalidSecurityMode,
			serverErr: ErrInvalidSecurityMode,
		},
		{
			name:      "production needs tls",
			policy:    Policy{SecurityMode: " Production "},
			clientErr: ErrTLSRequired,
			serverErr: ErrTLSRequired,
		},
		{
			name:      "production forbids skip verify",
			policy:    Policy{SecurityMode: SecurityModeProduction, TLS: TLSConfig{Enabled: true, InsecureSkipVerify: true, CertFile: "c", KeyFile: "k"}},
			clientErr: ErrTLSInsecureSkipNotAllow,
		},
		{
			name:      "tls without files",
			policy:    Policy{TLS: TLSConfig{Enabled: true}},
			clientErr: ErrTLSCAFileRequired,
			serverErr: ErrTLSCertFileRequired,
		},
		{
			name:      "key without cert",
			policy:    Policy{TLS: TLSConfig{Enabled: true, CAFile: "ca", KeyFile: "k"}},
			clientErr: ErrTLSCertFileRequired,
			serverErr: ErrTLSCertFileRequired,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.policy.ValidateClient(); !errors.Is(err, tc.clientErr) {
				t.Fatalf("client got=%v want=%v", err, tc.clientErr)
			}
			if err := tc.policy.ValidateServer(); !errors.Is(err, tc.serverErr) {
				t.Fatalf("server got=%v want=%v", err, tc.serverErr)
			}
		})
	}
}

func TestTLSHandshakeAndGreeting(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.New(t, "binlink-test-ca")
	server := ca.Loopback(t)
	client := ca.Client(t, "linkctl")

	srvCfg, err := ServerTLSConfig(TLSConfig{CertFile: server.CertFile, KeyFile: server.KeyFile, RequestClientCert: true})
	if err != nil {
		t.Fatalf("server config: %v", err)
	}
	if srvCfg.MinVersion != tls.VersionTLS12 || srvCfg.ClientAuth != tls.RequestClientCert {
		t.Fatalf("server config got min=%x auth=%v", srvCfg.MinVersion, srvCfg.ClientAuth)
	}
	cliCfg, err := ClientTLSConfig(TLSConfig{CAFile: ca.CAFile(), CertFile: client.CertFile, KeyFile: client.KeyFile}, "127.0.0.1:9")
	if err != nil {
		t.Fatalf("client config: %v", err)
	}
	if cliCfg.ServerName != "127.0.0.1" {
		t.Fatalf("server name got=%q want=127.0.0.1", cliCfg.ServerName)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan error, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		srvConn := tls.Server(raw, srvCfg)
		defer srvConn.Close()
		if err := srvConn.Handshake(); err != nil {
			done <- err
			return
		}
		if n := len(srvConn.ConnectionState().PeerCertificates); n != 1 {
			done <- errors.New("client certificate not presented")
			return
		}
		done <- WriteGreeting(srvConn, time.Second)
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	cliConn := tls.Client(raw, cliCfg)
	defer cliConn.Close()
	if err := cliConn.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := ReadGreeting(cliConn, time.Second); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func TestReadGreetingRejectsOtherBytes(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	go func() { _, _ = a.Write([]byte("Howdy")) }()
	err := ReadGreeting(b, time.Second)
	if err == nil || !strings.Contains(err.Error(), "unexpected greeting") {
		t.Fatalf("got=%v want unexpected greeting", err)
	}
}

func TestLoadCertPoolRejectsGarbage(t *testing.T) {
	testlog.Start(t)
	path := t.TempDir() + "/ca.crt"
	if err := os.WriteFile(path, []byte("not pem"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCertPool(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestWebSocketConnIsAByteStream(t *testing.T) {
	testlog.Start(t)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWebSocketConn(ws)
		defer conn.Close()
		_, _ = io.Copy(conn, io.LimitReader(conn, 11))
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn := NewWebSocketConn(ws)
	defer conn.Close()

	for _, part := range []string{"hel", "lo ", "world"} {
		if _, err := conn.Write([]byte(part)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 11)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "hello world" {
		t.Fatalf("echo got=%q want=%q", buf, "hello world")
	}
	if conn.RemoteAddr() == nil || conn.LocalAddr() == nil {
		t.Fatalf("missing addresses")
	}
}
