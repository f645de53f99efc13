package server

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/craftd/internal/auth"
	"github.com/loykin/craftd/internal/jobs"
	"github.com/loykin/craftd/internal/lifecycle"
	"github.com/loykin/craftd/internal/mcping"
	"github.com/loykin/craftd/internal/modpack"
	"github.com/loykin/craftd/internal/perf"
)

// Router provides embeddable HTTP handlers for managing servers and jobs.
// Endpoints, relative to basePath:
//
//	GET    /servers                    list
//	POST   /servers                    create
//	GET    /servers/:name              status
//	DELETE /servers/:name              delete a stopped server
//	POST   /servers/:name/start|stop|restart|kill|eula
//	POST   /servers/:name/command      body: {"command": "..."}
//	GET    /servers/:name/config       PUT replaces it
//	GET    /servers/:name/properties   PUT merges keys
//	GET    /servers/:name/ping|query|samples
//	POST   /servers/:name/modpack      body: {"url": "..."}
//	POST   /servers/:name/mods         body: {"project_id": 1, "file_id": 2}
//	GET    /jobs                       query: server=...&limit=...
//	GET    /jobs/:id
//	DELETE /jobs/:id                   cancel
//	GET    /jobs/:id/stream            websocket progress
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	basePath string
	servers  *lifecycle.Controller
	installs *modpack.Service
	engines  []*jobs.Engine
	sampler  *perf.Sampler
	pinger   *mcping.Client
	auth     *auth.Middleware
	metrics  http.Handler
	mpath    string
	logger   *slog.Logger
}

// Deps are the services a Router exposes. Servers is required; everything
// else is optional and the matching routes answer 503 when missing.
type Deps struct {
	Servers  *lifecycle.Controller
	Installs *modpack.Service
	// Engines are searched in order for job lookups and cancellation.
	Engines []*jobs.Engine
	Sampler *perf.Sampler
	Pinger  *mcping.Client
	Gate    auth.Gate
	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
	Logger      *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(d Deps, basePath string) *Router {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Pinger == nil {
		d.Pinger = &mcping.Client{}
	}
	return &Router{
		basePath: sanitizeBase(basePath),
		servers:  d.Servers,
		installs: d.Installs,
		engines:  d.Engines,
		sampler:  d.Sampler,
		pinger:   d.Pinger,
		auth:     auth.NewMiddleware(d.Gate),
		metrics:  d.Metrics,
		mpath:    d.MetricsPath,
		logger:   d.Logger.With("component", "api"),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.metrics != nil && r.mpath != "" {
		g.GET(r.mpath, gin.WrapH(r.metrics))
	}
	group := g.Group(r.basePath)
	group.Use(r.auth.GinAuth())

	read := r.auth.GinRequirePermission(auth.ResourceServer, auth.ActionRead)
	write := r.auth.GinRequirePermission(auth.ResourceServer, auth.ActionWrite)
	jobRead := r.auth.GinRequirePermission(auth.ResourceJob, auth.ActionRead)
	jobWrite := r.auth.GinRequirePermission(auth.ResourceJob, auth.ActionWrite)
	// deleting and reconfiguring servers is reserved for admins
	admin := r.auth.GinRequirePermission(auth.ResourceConfig, auth.ActionWrite)

	group.GET("/servers", read, r.handleList)
	group.POST("/servers", write, r.handleCreate)
	group.GET("/servers/:name", read, r.handleStatus)
	group.DELETE("/servers/:name", admin, r.handleDelete)
	group.POST("/servers/:name/start", write, r.handleStart)
	group.POST("/servers/:name/stop", write, r.handleStop)
	group.POST("/servers/:name/restart", write, r.handleRestart)
	group.POST("/servers/:name/kill", write, r.handleKill)
	group.POST("/servers/:name/command", write, r.handleCommand)
	group.POST("/servers/:name/eula", write, r.handleEULA)
	group.GET("/servers/:name/config", read, r.handleGetConfig)
	group.PUT("/servers/:name/config", admin, r.handlePutConfig)
	group.GET("/servers/:name/properties", read, r.handleGetProperties)
	group.PUT("/servers/:name/properties", admin, r.handlePutProperties)
	group.GET("/servers/:name/ping", read, r.handlePing)
	group.GET("/servers/:name/query", read, r.handleQuery)
	group.GET("/servers/:name/samples", read, r.handleSamples)
	group.POST("/servers/:name/modpack", jobWrite, r.handleModpack)
	group.POST("/servers/:name/mods", jobWrite, r.handleMod)

	group.GET("/jobs", jobRead, r.handleJobs)
	group.GET("/jobs/:id", jobRead, r.handleJob)
	group.DELETE("/jobs/:id", jobWrite, r.handleCancelJob)
	group.GET("/jobs/:id/stream", jobRead, r.handleStream)
	return g
}

// NewServer builds a standalone HTTP server on addr using this router. When
// tlsCfg is non-nil the caller should serve with ListenAndServeTLS("", "").
func NewServer(addr string, r *Router, tlsCfg *tls.Config) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// stop waits up to a minute and streams stay open
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type jobResp struct {
	JobID string `json:"job_id"`
}
