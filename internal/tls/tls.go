// Package tls builds the API server's TLS configuration.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/craftd/internal/config"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, bool) {
	switch strings.ToLower(ver) {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

func resolveTLSVersions(cfg config.ServerConfig) (minVer, maxVer uint16, err error) {
	minVer, maxVer = tls.VersionTLS12, tls.VersionTLS13
	if v, ok := parseTLSVersion(cfg.TLSMinVersion); ok {
		minVer = v
	} else if cfg.TLSMinVersion != "" && cfg.TLSMinVersion != "default" {
		return 0, 0, fmt.Errorf("unknown tls_min_version %q", cfg.TLSMinVersion)
	}
	if v, ok := parseTLSVersion(cfg.TLSMaxVersion); ok {
		maxVer = v
	} else if cfg.TLSMaxVersion != "" && cfg.TLSMaxVersion != "default" {
		return 0, 0, fmt.Errorf("unknown tls_max_version %q", cfg.TLSMaxVersion)
	}
	if minVer > maxVer {
		return 0, 0, errors.New("tls_min_version is above tls_max_version")
	}
	return minVer, maxVer, nil
}

// certLoader reloads the key pair on every handshake so renewed files are
// picked up without a restart.
func certLoader(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

// Setup returns the TLS config for the API server, or nil when TLS is off.
func Setup(server config.ServerConfig) (*tls.Config, error) {
	t := server.TLS
	if t == nil || !t.Enabled {
		return nil, nil
	}
	minVer, maxVer, err := resolveTLSVersions(server)
	if err != nil {
		return nil, err
	}

	if t.CertFile != "" && t.KeyFile != "" {
		return newConfig(t.CertFile, t.KeyFile, minVer, maxVer)
	}
	if t.Dir != "" {
		certPath := filepath.Join(t.Dir, tlsCrt)
		keyPath := filepath.Join(t.Dir, tlsKey)
		if t.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generateCertificate(t, t.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return newConfig(certPath, keyPath, minVer, maxVer)
	}
	return nil, errors.New("TLS enabled but no valid certificate configuration found")
}

func newConfig(certPath, keyPath string, minVer, maxVer uint16) (*tls.Config, error) {
	// fail at startup rather than on the first handshake
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		GetCertificate: certLoader(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func orDefault[T any](v []T, def []T) []T {
	if len(v) == 0 {
		return def
	}
	return v
}

func generateCertificate(t *config.TLSConfig, destDir string) error {
	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	gen := config.AutoGenTLS{}
	if t.AutoGen != nil {
		gen = *t.AutoGen
	}
	if gen.CommonName == "" {
		gen.CommonName = "localhost"
	}
	if gen.Organization == "" {
		gen.Organization = "craftd"
	}
	days := gen.ValidDays
	if days <= 0 {
		days = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   gen.CommonName,
		Organization: gen.Organization,
		DNSNames:     orDefault(gen.DNSNames, []string{"localhost"}),
		IPAddresses:  orDefault(gen.IPAddresses, []string{"127.0.0.1", "::1"}),
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     filepath.Join(destDir, tlsCrt),
		KeyPath:      filepath.Join(destDir, tlsKey),
		CACertPath:   filepath.Join(destDir, tlsCaCrt),
	})
}
