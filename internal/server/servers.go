package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/craftd/internal/errs"
	"github.com/loykin/craftd/internal/lifecycle"
	"github.com/loykin/craftd/internal/mcping"
	"github.com/loykin/craftd/internal/serverconfig"
	"github.com/loykin/craftd/internal/store"
)

type commandReq struct {
	Command string `json:"command"`
}

type configResp struct {
	Config          serverconfig.ServerConfig `json:"config"`
	RestartRequired bool                      `json:"restart_required"`
}

type pingResp struct {
	Online bool                `json:"online"`
	Host   string              `json:"host"`
	Port   int                 `json:"port"`
	Status *mcping.PingResult  `json:"status,omitempty"`
	Query  *mcping.QueryResult `json:"query,omitempty"`
}

func (r *Router) handleList(c *gin.Context) {
	list, err := r.servers.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []lifecycle.Status{}
	}
	writeJSON(c, http.StatusOK, list)
}

func (r *Router) handleStatus(c *gin.Context) {
	st, err := r.servers.Status(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleCreate(c *gin.Context) {
	var req lifecycle.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	st, err := r.servers.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, st)
}

func (r *Router) handleDelete(c *gin.Context) {
	if err := r.servers.Delete(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStart(c *gin.Context) {
	r.lifecycleOp(c, r.servers.Start)
}

func (r *Router) handleRestart(c *gin.Context) {
	r.lifecycleOp(c, r.servers.Restart)
}

func (r *Router) handleKill(c *gin.Context) {
	r.lifecycleOp(c, r.servers.Kill)
}

func (r *Router) handleStop(c *gin.Context) {
	timeout, err := queryDuration(c, "timeout", 0)
	if err != nil {
		writeError(c, err)
		return
	}
	name := c.Param("name")
	if err := r.servers.Stop(c.Request.Context(), name, timeout); err != nil {
		writeError(c, err)
		return
	}
	r.writeStatus(c, name)
}

func (r *Router) lifecycleOp(c *gin.Context, op func(ctx context.Context, name string) error) {
	name := c.Param("name")
	if err := op(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	r.writeStatus(c, name)
}

func (r *Router) writeStatus(c *gin.Context, name string) {
	st, err := r.servers.Status(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleCommand(c *gin.Context) {
	var req commandReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.servers.SendCommand(c.Request.Context(), c.Param("name"), req.Command); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleEULA(c *gin.Context) {
	if err := r.servers.AcceptEULA(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleGetConfig(c *gin.Context) {
	name := c.Param("name")
	cfg, err := r.servers.Config(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	st, err := r.servers.Status(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, configResp{Config: cfg, RestartRequired: st.RestartRequired})
}

func (r *Router) handlePutConfig(c *gin.Context) {
	var cfg serverconfig.ServerConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	restart, err := r.servers.UpdateConfig(c.Request.Context(), c.Param("name"), cfg)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, configResp{Config: cfg, RestartRequired: restart})
}

func (r *Router) handleGetProperties(c *gin.Context) {
	props, err := r.servers.Properties(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, props)
}

func (r *Router) handlePutProperties(c *gin.Context) {
	var updates map[string]string
	if err := c.ShouldBindJSON(&updates); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	name := c.Param("name")
	if err := r.servers.UpdateProperties(c.Request.Context(), name, updates); err != nil {
		writeError(c, err)
		return
	}
	r.handleGetProperties(c)
}

// endpoint resolves the dial address of a server from its properties.
func (r *Router) endpoint(name string) (host string, port int, queryPort int, query bool, err error) {
	dir, err := r.servers.Locate(name)
	if err != nil {
		return "", 0, 0, false, err
	}
	props, err := serverconfig.LoadProperties(dir)
	if err != nil {
		return "", 0, 0, false, err
	}
	queryPort, query = serverconfig.QueryPort(props)
	return serverconfig.Host(props), serverconfig.Port(props), queryPort, query, nil
}

func (r *Router) handlePing(c *gin.Context) {
	host, port, _, _, err := r.endpoint(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	res := r.pinger.Ping(c.Request.Context(), host, port)
	writeJSON(c, http.StatusOK, pingResp{Online: res != nil, Host: host, Port: port, Status: res})
}

func (r *Router) handleQuery(c *gin.Context) {
	host, _, qport, enabled, err := r.endpoint(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !enabled {
		writeError(c, errs.InvalidState("query protocol is disabled for %q", c.Param("name")))
		return
	}
	res := r.pinger.Query(c.Request.Context(), host, qport)
	writeJSON(c, http.StatusOK, pingResp{Online: res != nil, Host: host, Port: qport, Query: res})
}

func (r *Router) handleSamples(c *gin.Context) {
	name := c.Param("name")
	if _, err := r.servers.Locate(name); err != nil {
		writeError(c, err)
		return
	}
	window, err := queryDuration(c, "since", time.Hour)
	if err != nil {
		writeError(c, err)
		return
	}
	limit, err := queryInt(c, "limit", 500)
	if err != nil {
		writeError(c, err)
		return
	}
	out := []store.Sample{}
	if r.sampler != nil {
		samples, err := r.sampler.History(c.Request.Context(), name, time.Now().Add(-window), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		if samples != nil {
			out = samples
		}
	}
	writeJSON(c, http.StatusOK, out)
}

type modpackReq struct {
	URL string `json:"url"`
}

type modReq struct {
	ProjectID int `json:"project_id"`
	FileID    int `json:"file_id"`
}

func (r *Router) handleModpack(c *gin.Context) {
	if r.installs == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "installs are not configured"})
		return
	}
	var req modpackReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	id, err := r.installs.InstallModpack(c.Request.Context(), c.Param("name"), strings.TrimSpace(req.URL))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, jobResp{JobID: id})
}

func (r *Router) handleMod(c *gin.Context) {
	if r.installs == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "installs are not configured"})
		return
	}
	var req modReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	id, err := r.installs.InstallMod(c.Request.Context(), c.Param("name"), req.ProjectID, req.FileID)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, jobResp{JobID: id})
}
