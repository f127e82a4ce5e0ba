// Package tlsutil builds TLS configuration for the remote API client, the
// connectivity probe and the daemon's HTTP endpoint.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"

	"github.com/c360/offlinekit/errors"
)

// ClientConfig configures outgoing TLS. The system CA bundle is always
// trusted; CAFiles are additional roots. CertFile and KeyFile enable mTLS.
type ClientConfig struct {
	CAFiles            []string `json:"caFiles,omitempty"`
	CertFile           string   `json:"certFile,omitempty"`
	KeyFile            string   `json:"keyFile,omitempty"`
	ServerName         string   `json:"serverName,omitempty"`
	InsecureSkipVerify bool     `json:"insecureSkipVerify,omitempty"` // DEV/TEST ONLY
	MinVersion         string   `json:"minVersion,omitempty"`         // "1.2" or "1.3"
}

// IsZero reports whether cfg leaves Go's default TLS behavior unchanged.
func (c ClientConfig) IsZero() bool {
	return len(c.CAFiles) == 0 && c.CertFile == "" && c.KeyFile == "" &&
		c.ServerName == "" && !c.InsecureSkipVerify && c.MinVersion == ""
}

// Validate checks the settings without touching the filesystem.
func (c ClientConfig) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "tlsutil", "Validate",
			"certFile and keyFile must be set together")
	}
	return validateVersion(c.MinVersion)
}

// ServerConfig configures the TLS listener. ClientCAFiles enable client
// certificate verification.
type ServerConfig struct {
	CertFile          string   `json:"certFile,omitempty"`
	KeyFile           string   `json:"keyFile,omitempty"`
	MinVersion        string   `json:"minVersion,omitempty"`
	ClientCAFiles     []string `json:"clientCaFiles,omitempty"`
	RequireClientCert bool     `json:"requireClientCert,omitempty"`
	AllowedClientCNs  []string `json:"allowedClientCns,omitempty"`
}

// Enabled reports whether a server certificate is configured.
func (c ServerConfig) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != ""
}

// LoadClientTLSConfig creates a tls.Config for HTTP clients.
func LoadClientTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
		ServerName: cfg.ServerName,
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	if err := appendCerts(rootCAs, cfg.CAFiles, "LoadClientTLSConfig"); err != nil {
		return nil, err
	}
	tlsConfig.RootCAs = rootCAs

	// Setting this is intentional via config; operators know the implications.
	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	if cfg.CertFile != "" {
		clientCert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}

	return tlsConfig, nil
}

// NewHTTPClient returns an http.Client whose transport uses cfg. A zero cfg
// yields a client on a clone of http.DefaultTransport.
func NewHTTPClient(cfg ClientConfig) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.IsZero() {
		tlsConfig, err := LoadClientTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}
	return &http.Client{Transport: transport}, nil
}

// LoadServerTLSConfig creates a tls.Config for the HTTP listener. It returns
// nil when no certificate is configured.
func LoadServerTLSConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if err := validateVersion(cfg.MinVersion); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}

	if len(cfg.ClientCAFiles) == 0 {
		return tlsConfig, nil
	}

	clientCAs := x509.NewCertPool()
	if err := appendCerts(clientCAs, cfg.ClientCAFiles, "LoadServerTLSConfig"); err != nil {
		return nil, err
	}
	tlsConfig.ClientCAs = clientCAs
	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	if len(cfg.AllowedClientCNs) > 0 {
		allowed := cfg.AllowedClientCNs
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, verifiedChains [][]*x509.Certificate) error {
			return verifyAllowedClientCN(verifiedChains, allowed)
		}
	}

	return tlsConfig, nil
}

func appendCerts(pool *x509.CertPool, files []string, method string) error {
	for _, file := range files {
		pemData, err := os.ReadFile(file)
		if err != nil {
			return errors.WrapFatal(err, "tlsutil", method, fmt.Sprintf("read CA file %s", file))
		}
		if !pool.AppendCertsFromPEM(pemData) {
			return errors.WrapFatal(errors.ErrInvalidData, "tlsutil", method,
				fmt.Sprintf("parse CA certificate from %s", file))
		}
	}
	return nil
}

// verifyAllowedClientCN checks the leaf certificate CN against allowedCNs.
func verifyAllowedClientCN(chains [][]*x509.Certificate, allowedCNs []string) error {
	if len(chains) == 0 || len(chains[0]) == 0 {
		return fmt.Errorf("no verified certificate chains")
	}

	leafCert := chains[0][0]
	for _, allowedCN := range allowedCNs {
		if leafCert.Subject.CommonName == allowedCN {
			return nil
		}
	}

	return fmt.Errorf("client certificate CN '%s' not in allowed list", leafCert.Subject.CommonName)
}

func validateVersion(version string) error {
	switch version {
	case "", "1.2", "1.3":
		return nil
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "tlsutil", "Validate",
			fmt.Sprintf("unsupported TLS min version %q", version))
	}
}

// parseTLSVersion returns tls.VersionTLS12 for an empty version.
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
