package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/loykin/craftd/internal/errs"
	"github.com/loykin/craftd/internal/history"
	"github.com/loykin/craftd/internal/serverconfig"
)

// CreateRequest describes a new server. A zero Port allocates one.
type CreateRequest struct {
	Name       string                     `json:"name"`
	Config     *serverconfig.ServerConfig `json:"config,omitempty"`
	Port       int                        `json:"port,omitempty"`
	MOTD       string                     `json:"motd,omitempty"`
	AcceptEULA bool                       `json:"accept_eula,omitempty"`
}

// Create lays out a new server directory with default settings.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (Status, error) {
	if err := ValidateName(req.Name); err != nil {
		return Status{}, err
	}
	cfg := serverconfig.Default()
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := cfg.Validate(); err != nil {
		return Status{}, err
	}
	dir := c.Dir(req.Name)
	if _, err := os.Stat(dir); err == nil {
		return Status{}, errs.InvalidState("server %q already exists", req.Name)
	}
	used, err := c.usedPorts(ctx, req.Name)
	if err != nil {
		return Status{}, err
	}
	port := req.Port
	switch {
	case port == 0:
		port = c.AllocatePort(used)
	case port < 1 || port > 65535:
		return Status{}, errs.Validation("port %d out of range", port)
	default:
		if owner, ok := used[port]; ok {
			return Status{}, errs.InvalidState("port %d is used by server %q", port, owner)
		}
	}
	motd := req.MOTD
	if motd == "" {
		motd = req.Name
	}

	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o755); err != nil {
		return Status{}, fmt.Errorf("create server dir: %w", err)
	}
	if err := serverconfig.Save(dir, cfg); err != nil {
		return Status{}, err
	}
	if err := serverconfig.SaveProperties(dir, serverconfig.DefaultProperties(port, motd)); err != nil {
		return Status{}, err
	}
	if req.AcceptEULA {
		if err := serverconfig.AcceptEULA(dir); err != nil {
			return Status{}, err
		}
	}
	if err := c.opts.Chowner.Chown(dir); err != nil {
		return Status{}, fmt.Errorf("chown server dir: %w", err)
	}
	c.logger.Info("server created", "server", req.Name, "port", port)
	c.opts.History.Record(ctx, history.Event{Type: history.EventCreate, Server: req.Name, Status: StateStopped,
		Message: "port " + strconv.Itoa(port)})
	return c.status(req.Name, c.opts.Finder.Get(ctx, req.Name)), nil
}

// usedPorts maps the game port of every server except exclude to its owner.
func (c *Controller) usedPorts(ctx context.Context, exclude string) (map[int]string, error) {
	names, err := c.Names(ctx)
	if err != nil {
		return nil, err
	}
	used := make(map[int]string, len(names))
	for _, n := range names {
		if n == exclude {
			continue
		}
		props, err := serverconfig.LoadProperties(c.Dir(n))
		if err != nil {
			c.logger.Warn("read properties", "server", n, "error", err)
			continue
		}
		used[serverconfig.Port(props)] = n
	}
	return used, nil
}

// AllocatePort returns the lowest port at or above the base not in used.
func (c *Controller) AllocatePort(used map[int]string) int {
	port := c.opts.BasePort
	for {
		if _, ok := used[port]; !ok {
			return port
		}
		port++
	}
}

// Config returns the supervisor settings of a server.
func (c *Controller) Config(_ context.Context, name string) (serverconfig.ServerConfig, error) {
	dir, err := c.existing(name)
	if err != nil {
		return serverconfig.ServerConfig{}, err
	}
	return serverconfig.Load(dir)
}

// UpdateConfig replaces the supervisor settings. It reports whether the
// change requires a restart to take effect; if so the restart-required
// sentinel is written.
func (c *Controller) UpdateConfig(ctx context.Context, name string, cfg serverconfig.ServerConfig) (bool, error) {
	dir, err := c.existing(name)
	if err != nil {
		return false, err
	}
	old, err := serverconfig.Load(dir)
	if err != nil {
		return false, err
	}
	if err := serverconfig.Save(dir, cfg); err != nil {
		return false, err
	}
	restart := serverconfig.NeedsRestart(old, cfg)
	if restart {
		if err := os.WriteFile(filepath.Join(dir, RestartRequiredFile), nil, 0o644); err != nil {
			return true, fmt.Errorf("mark restart required: %w", err)
		}
	}
	c.opts.History.Record(ctx, history.Event{Type: history.EventConfig, Server: name, Status: "updated",
		Message: "restart_required=" + strconv.FormatBool(restart)})
	return restart, nil
}

// Properties returns the game-visible settings of a server.
func (c *Controller) Properties(_ context.Context, name string) (map[string]string, error) {
	dir, err := c.existing(name)
	if err != nil {
		return nil, err
	}
	p, err := serverconfig.LoadProperties(dir)
	if err != nil {
		return nil, err
	}
	return p.Map(), nil
}

// UpdateProperties merges updates into server.properties and rewrites it.
// A server-port owned by another server is rejected.
func (c *Controller) UpdateProperties(ctx context.Context, name string, updates map[string]string) error {
	dir, err := c.existing(name)
	if err != nil {
		return err
	}
	if v, ok := updates["server-port"]; ok {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return errs.Validation("server-port %q is not a valid port", v)
		}
		used, err := c.usedPorts(ctx, name)
		if err != nil {
			return err
		}
		if owner, ok := used[port]; ok {
			return errs.InvalidState("port %d is used by server %q", port, owner)
		}
	}
	p, err := serverconfig.LoadProperties(dir)
	if err != nil {
		return err
	}
	for k, v := range updates {
		if k == "" {
			return errs.Validation("empty property key")
		}
		if _, _, err := p.Set(k, v); err != nil {
			return errs.Validation("property %s: %v", k, err)
		}
	}
	if err := serverconfig.SaveProperties(dir, p); err != nil {
		return err
	}
	c.opts.History.Record(ctx, history.Event{Type: history.EventConfig, Server: name, Status: "updated",
		Message: "server.properties"})
	return nil
}

// AcceptEULA records EULA acceptance for a server.
func (c *Controller) AcceptEULA(_ context.Context, name string) error {
	dir, err := c.existing(name)
	if err != nil {
		return err
	}
	if err := serverconfig.AcceptEULA(dir); err != nil {
		return err
	}
	return c.opts.Chowner.Chown(filepath.Join(dir, serverconfig.EULAFile))
}

// Delete removes a stopped server's directory.
func (c *Controller) Delete(ctx context.Context, name string) error {
	dir, err := c.existing(name)
	if err != nil {
		return err
	}
	if c.opts.Finder.IsRunning(ctx, name) {
		return errs.InvalidState("server %q is running", name)
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	c.logger.Info("server deleted", "server", name)
	return nil
}
