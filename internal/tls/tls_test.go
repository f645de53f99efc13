package tls

import (
	stdtls "crypto/tls"
	"path/filepath"
	"testing"

	"github.com/loykin/craftd/internal/config"
)

func TestSetup_Disabled(t *testing.T) {
	c, err := Setup(config.ServerConfig{})
	if err != nil || c != nil {
		t.Fatalf("expected nil config, got %v %v", c, err)
	}
}

func TestSetup_AutoGenerate(t *testing.T) {
	dir := t.TempDir()
	srv := config.ServerConfig{TLS: SelfSigned(dir, "craftd.local"), TLSMinVersion: "1.2"}
	c, err := Setup(srv)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if c.MinVersion != stdtls.VersionTLS12 || c.MaxVersion != stdtls.VersionTLS13 {
		t.Fatalf("versions: %x %x", c.MinVersion, c.MaxVersion)
	}
	cert, err := c.GetCertificate(&stdtls.ClientHelloInfo{})
	if err != nil || cert == nil {
		t.Fatalf("get certificate: %v", err)
	}
	if CACertPath(srv.TLS) != filepath.Join(dir, "tls", tlsCaCrt) {
		t.Fatalf("ca path: %s", CACertPath(srv.TLS))
	}

	// explicit files take precedence over the directory
	explicit := config.ServerConfig{TLS: &config.TLSConfig{
		Enabled:  true,
		CertFile: filepath.Join(dir, "tls", tlsCrt),
		KeyFile:  filepath.Join(dir, "tls", tlsKey),
	}}
	if _, err := Setup(explicit); err != nil {
		t.Fatalf("explicit files: %v", err)
	}
}

func TestSetup_Errors(t *testing.T) {
	if _, err := Setup(config.ServerConfig{TLS: &config.TLSConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error without certificate source")
	}
	dir := t.TempDir()
	bad := config.ServerConfig{TLS: SelfSigned(dir), TLSMinVersion: "1.3", TLSMaxVersion: "1.2"}
	if _, err := Setup(bad); err == nil {
		t.Fatalf("expected version order error")
	}
	missing := config.ServerConfig{TLS: &config.TLSConfig{Enabled: true, Dir: dir}}
	if _, err := Setup(missing); err == nil {
		t.Fatalf("expected error for missing files without auto_generate")
	}
}
