// Package registry resolves mod files published on a mod registry.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/craftd/internal/errs"
)

// ModFile is one downloadable file of a mod project.
type ModFile struct {
	ProjectID   int    `json:"project_id"`
	FileID      int    `json:"file_id"`
	FileName    string `json:"file_name"`
	DownloadURL string `json:"download_url"`
}

// Resolver maps a (project, file) pair to its download location.
type Resolver interface {
	Resolve(ctx context.Context, projectID, fileID int) (ModFile, error)
}

// HTTPResolver talks to a CurseForge-compatible API.
type HTTPResolver struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPResolver returns a resolver for baseURL. A nil client gets a 15s
// timeout.
func NewHTTPResolver(baseURL, apiKey string, client *http.Client) *HTTPResolver {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPResolver{BaseURL: strings.TrimRight(baseURL, "/"), APIKey: apiKey, Client: client}
}

type fileEnvelope struct {
	Data struct {
		ID          int    `json:"id"`
		ModID       int    `json:"modId"`
		FileName    string `json:"fileName"`
		DownloadURL string `json:"downloadUrl"`
	} `json:"data"`
}

func (r *HTTPResolver) Resolve(ctx context.Context, projectID, fileID int) (ModFile, error) {
	u := fmt.Sprintf("%s/v1/mods/%d/files/%d", r.BaseURL, projectID, fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ModFile{}, err
	}
	req.Header.Set("Accept", "application/json")
	if r.APIKey != "" {
		req.Header.Set("x-api-key", r.APIKey)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return ModFile{}, errs.ExternalTool("registry request %d/%d: %v", projectID, fileID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ModFile{}, errs.NotFound("mod file %d/%d", projectID, fileID)
	case resp.StatusCode/100 != 2:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ModFile{}, errs.ExternalTool("registry %d/%d: %s: %s", projectID, fileID, resp.Status, strings.TrimSpace(string(b)))
	}
	var env fileEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return ModFile{}, errs.ExternalTool("decode registry response: %v", err)
	}
	mf := ModFile{ProjectID: projectID, FileID: fileID, FileName: env.Data.FileName, DownloadURL: env.Data.DownloadURL}
	if mf.DownloadURL == "" {
		// some authors disable third-party distribution
		return ModFile{}, errs.ExternalTool("mod file %d/%d has no download url", projectID, fileID)
	}
	if mf.FileName == "" {
		mf.FileName = fileNameFromURL(mf.DownloadURL)
	}
	return mf, nil
}

func fileNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := u.Path
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	name, _ := url.PathUnescape(p)
	return name
}
