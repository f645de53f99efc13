package server

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/loykin/craftd/internal/errs"
	"github.com/loykin/craftd/internal/jobs"
	"github.com/loykin/craftd/internal/store"
)

// owner returns the engine holding id in memory. Engines share the durable
// store, so the first engine serves lookups of finished jobs.
func (r *Router) owner(id string) *jobs.Engine {
	for _, e := range r.engines {
		if _, ok := e.Memory(id); ok {
			return e
		}
	}
	if len(r.engines) > 0 {
		return r.engines[0]
	}
	return nil
}

func (r *Router) handleJobs(c *gin.Context) {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		writeError(c, err)
		return
	}
	server := c.Query("server")
	byID := make(map[string]store.JobRecord)
	for _, e := range r.engines {
		recs, err := e.List(c.Request.Context(), server, limit)
		if err != nil {
			writeError(c, err)
			return
		}
		for _, rec := range recs {
			if prev, ok := byID[rec.ID]; ok && store.StatusRank(prev.Status) >= store.StatusRank(rec.Status) {
				continue
			}
			byID[rec.ID] = rec
		}
	}
	out := make([]store.JobRecord, 0, len(byID))
	for _, rec := range byID {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.After(out[k].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleJob(c *gin.Context) {
	e := r.owner(c.Param("id"))
	if e == nil {
		writeError(c, errs.NotFound("job %s", c.Param("id")))
		return
	}
	rec, err := e.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	p := jobs.FromRecord(rec)
	if st, ok := e.Install(rec.ID); ok {
		p.Install = st
	}
	writeJSON(c, http.StatusOK, p)
}

func (r *Router) handleCancelJob(c *gin.Context) {
	id := c.Param("id")
	for _, e := range r.engines {
		if _, ok := e.Memory(id); !ok {
			continue
		}
		if err := e.Cancel(id); err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, okResp{OK: true})
		return
	}
	// not in memory: either unknown or already finished
	if e := r.owner(id); e != nil {
		if _, err := e.Status(c.Request.Context(), id); err == nil {
			writeError(c, errs.InvalidState("job %s already finished", id))
			return
		}
	}
	writeError(c, errs.NotFound("job %s", id))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleStream upgrades to a websocket and sends one JSON progress record
// per message until the job is terminal or the client goes away.
func (r *Router) handleStream(c *gin.Context) {
	id := c.Param("id")
	e := r.owner(id)
	if e == nil {
		writeError(c, errs.NotFound("job %s", id))
		return
	}
	// fail before upgrading so plain HTTP clients see the status code
	if _, err := e.Status(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.logger.Debug("websocket upgrade failed", "job", id, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// the reader notices client close frames and dropped connections
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for p, err := range e.Subscribe(ctx, id) {
		if err != nil {
			if !errs.IsCancellation(err) {
				msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error())
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
			}
			return
		}
		if err := conn.WriteJSON(p); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				r.logger.Debug("stream write failed", "job", id, "error", err)
			}
			return
		}
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
}
