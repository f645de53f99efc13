// Package client talks to the craftd daemon API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client provides HTTP client functionality to communicate with the craftd daemon
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	tls     *tls.Config
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token    string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8080/api",
		Timeout: 90 * time.Second,
	}
}

// New creates a new craftd API client with TLS support
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		// stop may wait a full minute for the server to exit
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	var tlsConfig *tls.Config
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		cfg, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			tlsConfig = cfg
			transport.TLSClientConfig = cfg
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		token:   config.Token,
		tls:     tlsConfig,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := c.newRequest(ctx, http.MethodGet, "/servers", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Servers lists all servers.
func (c *Client) Servers(ctx context.Context) ([]ServerStatus, error) {
	var out []ServerStatus
	err := c.do(ctx, http.MethodGet, "/servers", nil, &out)
	return out, err
}

// Server returns the status of one server.
func (c *Client) Server(ctx context.Context, name string) (ServerStatus, error) {
	var out ServerStatus
	err := c.do(ctx, http.MethodGet, serverPath(name, ""), nil, &out)
	return out, err
}

// CreateServer creates a server and returns its initial status.
func (c *Client) CreateServer(ctx context.Context, req CreateRequest) (ServerStatus, error) {
	var out ServerStatus
	err := c.do(ctx, http.MethodPost, "/servers", req, &out)
	return out, err
}

// DeleteServer removes a stopped server.
func (c *Client) DeleteServer(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, serverPath(name, ""), nil, nil)
}

// Start starts a server and waits for the daemon to verify it.
func (c *Client) Start(ctx context.Context, name string) (ServerStatus, error) {
	return c.action(ctx, name, "start", "")
}

// Stop stops a server. A zero timeout uses the daemon default.
func (c *Client) Stop(ctx context.Context, name string, timeout time.Duration) (ServerStatus, error) {
	q := ""
	if timeout > 0 {
		q = "timeout=" + url.QueryEscape(timeout.String())
	}
	return c.action(ctx, name, "stop", q)
}

func (c *Client) Restart(ctx context.Context, name string) (ServerStatus, error) {
	return c.action(ctx, name, "restart", "")
}

func (c *Client) Kill(ctx context.Context, name string) (ServerStatus, error) {
	return c.action(ctx, name, "kill", "")
}

func (c *Client) action(ctx context.Context, name, op, query string) (ServerStatus, error) {
	p := serverPath(name, op)
	if query != "" {
		p += "?" + query
	}
	c.logger.Debug("server action", "server", name, "action", op)
	var out ServerStatus
	err := c.do(ctx, http.MethodPost, p, nil, &out)
	return out, err
}

// SendCommand types a console command into a running server.
func (c *Client) SendCommand(ctx context.Context, name, command string) error {
	return c.do(ctx, http.MethodPost, serverPath(name, "command"), map[string]string{"command": command}, nil)
}

// AcceptEULA records EULA acceptance for a server.
func (c *Client) AcceptEULA(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, serverPath(name, "eula"), nil, nil)
}

// Ping reports whether the server answers its status handshake.
func (c *Client) Ping(ctx context.Context, name string) (PingResponse, error) {
	var out PingResponse
	err := c.do(ctx, http.MethodGet, serverPath(name, "ping"), nil, &out)
	return out, err
}

// InstallModpack queues a modpack install and returns the job id.
func (c *Client) InstallModpack(ctx context.Context, name, packURL string) (string, error) {
	var out jobResp
	err := c.do(ctx, http.MethodPost, serverPath(name, "modpack"), map[string]string{"url": packURL}, &out)
	return out.JobID, err
}

// InstallMod queues a single mod install and returns the job id.
func (c *Client) InstallMod(ctx context.Context, name string, projectID, fileID int) (string, error) {
	var out jobResp
	body := map[string]int{"project_id": projectID, "file_id": fileID}
	err := c.do(ctx, http.MethodPost, serverPath(name, "mods"), body, &out)
	return out.JobID, err
}

// Jobs lists jobs, optionally for one server.
func (c *Client) Jobs(ctx context.Context, server string) ([]JobRecord, error) {
	p := "/jobs"
	if server != "" {
		p += "?server=" + url.QueryEscape(server)
	}
	var out []JobRecord
	err := c.do(ctx, http.MethodGet, p, nil, &out)
	return out, err
}

// Job returns the current record of a job.
func (c *Client) Job(ctx context.Context, id string) (Progress, error) {
	var out Progress
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &out)
	return out, err
}

// CancelJob cancels a queued or running job.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(id), nil, nil)
}

// Watch streams progress of a job over a websocket, calling fn for each
// record. It returns the last record once the job is terminal.
func (c *Client) Watch(ctx context.Context, id string, fn func(Progress)) (Progress, error) {
	u, err := url.Parse(c.baseURL + "/jobs/" + url.PathEscape(id) + "/stream")
	if err != nil {
		return Progress{}, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second, TLSClientConfig: c.tls}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			return Progress{}, decodeError(resp)
		}
		return Progress{}, fmt.Errorf("dial stream: %w", err)
	}
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var last Progress
	for {
		var p Progress
		if err := conn.ReadJSON(&p); err != nil {
			if last.Terminal() && websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return last, nil
			}
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Text != "" {
				return last, &APIError{StatusCode: http.StatusInternalServerError, Message: ce.Text}
			}
			return last, fmt.Errorf("read stream: %w", err)
		}
		last = p
		if fn != nil {
			fn(p)
		}
	}
}

func serverPath(name, op string) string {
	p := "/servers/" + url.PathEscape(name)
	if op != "" {
		p += "/" + op
	}
	return p
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do performs a request and decodes a JSON answer into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var er struct {
		ErrorResponse
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &er); err != nil || (er.Error == "" && er.Message == "") {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	msg := er.Error
	if er.Message != "" {
		msg += ": " + er.Message
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// IsStatus reports whether err is an API error with the given status code.
func IsStatus(err error, code int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == code
}

// ParseTimeout accepts a Go duration or plain seconds.
func ParseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
