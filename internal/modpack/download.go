package modpack

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/loykin/craftd/internal/errs"
)

// Downloader fetches files over HTTP.
type Downloader struct {
	Client    *http.Client
	UserAgent string
}

func (d Downloader) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return &http.Client{Timeout: 30 * time.Minute}
}

// Fetch writes url to dst through a temporary file. progress, when set,
// receives bytes done and the total (-1 when unknown).
func (d Downloader) Fetch(ctx context.Context, url, dst string, progress func(done, total int64)) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errs.Validation("download url %q: %v", url, err)
	}
	if d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	}
	resp, err := d.client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, errs.ExternalTool("download %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		return 0, errs.ExternalTool("download %s: %s", url, resp.Status)
	}

	part := dst + ".part"
	out, err := os.Create(part)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, &progressReader{r: resp.Body, total: resp.ContentLength, fn: progress})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(part)
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		return n, fmt.Errorf("download %s: %w", url, err)
	}
	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return n, err
	}
	return n, nil
}

type progressReader struct {
	r     io.Reader
	done  int64
	total int64
	fn    func(done, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.done += int64(n)
	if p.fn != nil && n > 0 {
		p.fn(p.done, p.total)
	}
	return n, err
}
