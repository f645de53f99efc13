// Package opensearch indexes audit events into an OpenSearch (or
// Elasticsearch) cluster over its document API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/craftd/internal/history"
)

type Sink struct {
	client  *http.Client
	baseURL string
	index   string
	daily   bool
}

type Option func(*Sink)

// WithDailyIndex appends the event's UTC date to the index name,
// e.g. craftd-history-2026.10.17.
func WithDailyIndex() Option { return func(s *Sink) { s.daily = true } }

// WithHTTPClient replaces the default client with a 5s timeout.
func WithHTTPClient(c *http.Client) Option { return func(s *Sink) { s.client = c } }

func New(baseURL, index string, opts ...Option) *Sink {
	s := &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sink) indexFor(e history.Event) string {
	if !s.daily {
		return s.index
	}
	at := e.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	return s.index + "-" + at.UTC().Format("2006.01.02")
}

// docID is stable for job outcomes so a resent event overwrites the
// earlier document instead of duplicating it.
func docID(e history.Event) string {
	if e.JobID == "" {
		return ""
	}
	return e.JobID + "-" + e.Status
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	method := http.MethodPost
	u := s.baseURL + "/" + url.PathEscape(s.indexFor(e)) + "/_doc"
	if id := docID(e); id != "" {
		method = http.MethodPut
		u += "/" + url.PathEscape(id)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch: index %s: status %d: %s", s.indexFor(e), resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
