package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

var (
	ErrInvalidSecurityMode     = errors.New("transport: invalid security mode")
	ErrTLSRequired             = errors.New("transport: tls required")
	ErrTLSCertFileRequired     = errors.New("transport: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("transport: tls key file required")
	ErrTLSCAFileRequired       = errors.New("transport: tls ca file required")
	ErrTLSInsecureSkipNotAllow = errors.New("transport: insecure skip verify not allowed")
)

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig is the file-based TLS setup shared by listener and dialer.
type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
	// CAFile verifies the server on the dialing side.
	CAFile     string `toml:"ca_file"`
	ServerName string `toml:"server_name"`
	// RequestClientCert makes the listener ask for a client certificate. Whatever the
	// client presents is accepted without verification.
	RequestClientCert  bool `toml:"request_client_cert"`
	InsecureSkipVerify bool `toml:"insecure_skip_verify"`
}

// Policy pairs a security mode with the TLS settings it is checked against.
type Policy struct {
	SecurityMode SecurityMode `toml:"security_mode"`
	TLS          TLSConfig    `toml:"tls"`
}

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

func checkMode(mode SecurityMode) (SecurityMode, error) {
	norm := NormalizeSecurityMode(mode)
	switch norm {
	case SecurityModeDevelopment, SecurityModeProduction:
		return norm, nil
	default:
		return norm, fmt.Errorf("%w: %q", ErrInvalidSecurityMode, mode)
	}
}

func (p Policy) ValidateClient() error {
	mode, err := checkMode(p.SecurityMode)
	if err != nil {
		return err
	}
	if mode == SecurityModeProduction {
		if !p.TLS.Enabled {
			return ErrTLSRequired
		}
		if p.TLS.InsecureSkipVerify {
			return ErrTLSInsecureSkipNotAllow
		}
	}
	if p.TLS.Enabled && strings.TrimSpace(p.TLS.CAFile) == "" && !p.TLS.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	certSet := strings.TrimSpace(p.TLS.CertFile) != ""
	keySet := strings.TrimSpace(p.TLS.KeyFile) != ""
	if certSet && !keySet {
		return ErrTLSKeyFileRequired
	}
	if keySet && !certSet {
		return ErrTLSCertFileRequired
	}
	return nil
}

func (p Policy) ValidateServer() error {
	mode, err := checkMode(p.SecurityMode)
	if err != nil {
		return err
	}
	if mode == SecurityModeProduction && !p.TLS.Enabled {
		return ErrTLSRequired
	}
	if p.TLS.Enabled {
		if strings.TrimSpace(p.TLS.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(p.TLS.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	return nil
}

// ServerTLSConfig builds the listener side: server certificate, TLS 1.2 floor, optional
// unverified client certificates.
func ServerTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	out := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}
	if cfg.RequestClientCert {
		out.ClientAuth = tls.RequestClientCert
	}
	return out, nil
}

// ClientTLSConfig builds the dialing side for addr. The server name defaults to addr's host.
func ClientTLSConfig(cfg TLSConfig, addr string) (*tls.Config, error) {
	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(cfg.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	out.ServerName = serverName

	if caPath := strings.TrimSpace(cfg.CAFile); caPath != "" {
		pool, err := LoadCertPool(caPath)
		if err != nil {
			return nil, err
		}
		out.RootCAs = pool
	}

	if strings.TrimSpace(cfg.CertFile) != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}

func LoadCertPool(path string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("transport: parse tls ca bundle: %s", path)
	}
	return pool, nil
}
