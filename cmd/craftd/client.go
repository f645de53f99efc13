package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/loykin/craftd"
	itls "github.com/loykin/craftd/internal/tls"
	"github.com/loykin/craftd/pkg/client"
)

// command carries what the client-side commands share.
type command struct {
	flags *GlobalFlags
	out   io.Writer
}

// endpoint is where the daemon listens and which CA to trust.
type endpoint struct {
	url    string
	secure bool
	caCert string
}

// apiURL picks --api-url, else derives it from the config file.
func (c command) apiURL() (endpoint, error) {
	if c.flags.APIUrl != "" {
		u := strings.TrimRight(c.flags.APIUrl, "/")
		return endpoint{url: u, secure: strings.HasPrefix(u, "https://")}, nil
	}
	cfg, err := craftd.LoadConfig(c.flags.ConfigPath)
	if err != nil {
		return endpoint{}, fmt.Errorf("error loading config: %w", err)
	}
	ep := endpoint{}
	scheme := "http"
	if t := cfg.Server.TLS; t != nil && t.Enabled {
		scheme = "https"
		ep.secure = true
		ep.caCert = itls.CACertPath(t)
	}
	host := cfg.Server.Listen
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	ep.url = scheme + "://" + host + cfg.Server.BasePath
	return ep, nil
}

func (c command) client() (*client.Client, error) {
	ep, err := c.apiURL()
	if err != nil {
		return nil, err
	}
	cc := client.Config{
		BaseURL:  ep.url,
		Token:    c.flags.Token,
		Timeout:  c.flags.APITimeout,
		Insecure: c.flags.Insecure,
	}
	if ep.secure && !c.flags.Insecure {
		cc.TLS = &client.TLSClientConfig{Enabled: true, CACert: ep.caCert}
	}
	return client.New(cc), nil
}

func (c command) printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(c.out, string(b))
}
