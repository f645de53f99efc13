package serverconfig

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/magiconair/properties"
)

const (
	PropertiesFile = "server.properties"
	EULAFile       = "eula.txt"
	DefaultPort    = 25565
)

func loader() *properties.Loader {
	return &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true, IgnoreMissing: true}
}

// LoadProperties reads server.properties from dir. A missing file yields an
// empty set.
func LoadProperties(dir string) (*properties.Properties, error) {
	p, err := loader().LoadFile(filepath.Join(dir, PropertiesFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", PropertiesFile, err)
	}
	p.DisableExpansion = true
	return p, nil
}

// SaveProperties replaces server.properties in dir. Key order is kept.
func SaveProperties(dir string, p *properties.Properties) error {
	return writeProps(filepath.Join(dir, PropertiesFile), p)
}

func writeProps(path string, p *properties.Properties) error {
	var buf bytes.Buffer
	if _, err := p.Write(&buf, properties.UTF8); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// DefaultProperties returns the game settings written on create.
func DefaultProperties(port int, motd string) *properties.Properties {
	p := properties.NewProperties()
	p.DisableExpansion = true
	_, _, _ = p.Set("server-port", strconv.Itoa(port))
	_, _, _ = p.Set("server-ip", "")
	_, _, _ = p.Set("motd", motd)
	_, _, _ = p.Set("enable-query", "false")
	_, _, _ = p.Set("query.port", strconv.Itoa(port))
	_, _, _ = p.Set("max-players", "20")
	return p
}

// Port returns the configured game port.
func Port(p *properties.Properties) int {
	if p == nil {
		return DefaultPort
	}
	port := p.GetInt("server-port", DefaultPort)
	if port <= 0 || port > 65535 {
		return DefaultPort
	}
	return port
}

// Host returns the address to dial for the server; wildcard binds map to
// loopback.
func Host(p *properties.Properties) string {
	if p == nil {
		return "127.0.0.1"
	}
	switch ip := strings.TrimSpace(p.GetString("server-ip", "")); ip {
	case "", "0.0.0.0", "::", "[::]", "*":
		return "127.0.0.1"
	default:
		return ip
	}
}

// QueryPort returns the UDP query port when the query protocol is enabled.
func QueryPort(p *properties.Properties) (int, bool) {
	if p == nil || !p.GetBool("enable-query", false) {
		return 0, false
	}
	return p.GetInt("query.port", Port(p)), true
}

// EULAAccepted reports whether eula.txt exists with eula=true.
func EULAAccepted(dir string) bool {
	p, err := loader().LoadFile(filepath.Join(dir, EULAFile))
	if err != nil {
		return false
	}
	return p.GetBool("eula", false)
}

// AcceptEULA writes eula.txt with eula=true.
func AcceptEULA(dir string) error {
	p := properties.NewProperties()
	p.DisableExpansion = true
	_, _, _ = p.Set("eula", "true")
	return writeProps(filepath.Join(dir, EULAFile), p)
}
