package tls

import (
	"path/filepath"

	"github.com/loykin/craftd/internal/config"
)

// SelfSigned returns a TLS section that generates a certificate under
// dataDir/tls on first use.
func SelfSigned(dataDir string, hosts ...string) *config.TLSConfig {
	if len(hosts) == 0 {
		hosts = []string{"localhost"}
	}
	return &config.TLSConfig{
		Enabled:      true,
		Dir:          filepath.Join(dataDir, "tls"),
		AutoGenerate: true,
		AutoGen: &config.AutoGenTLS{
			CommonName: hosts[0],
			DNSNames:   hosts,
			ValidDays:  365,
		},
	}
}

// CACertPath is the file clients can trust for a generated certificate.
func CACertPath(t *config.TLSConfig) string {
	if t == nil || t.Dir == "" {
		return ""
	}
	return filepath.Join(t.Dir, tlsCaCrt)
}
