package store

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/duskcrawl/duskcrawl/internal/link"
)

// fetchMeta is the persisted header+cookie envelope saved alongside a
// fetched body.
type fetchMeta struct {
	URL        string      `json:"url"`
	FinalURL   string      `json:"final_url"`
	StatusCode int         `json:"status_code"`
	FetchedAt  time.Time   `json:"fetched_at"`
	Headers    interface{} `json:"headers"`
	Cookies    interface{} `json:"cookies"`
}

// Artifacts persists crawl results using the conventional layout described
// in §6: {PATH_DATA}/{host}/... for fetched/rendered content,
// {PATH_DATA}/misc/{family}.txt for sink files, {PATH_DATA}/link.csv for
// the append-only hash log.
type Artifacts struct {
	blob BlobStore
}

// New wraps blob with the crawl-artifact naming conventions.
func New(blob BlobStore) *Artifacts {
	return &Artifacts{blob: blob}
}

func bodyExtension(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || mt == "" {
		return ".bin"
	}
	exts, err := mime.ExtensionsByType(mt)
	if err != nil || len(exts) == 0 {
		switch {
		case strings.Contains(mt, "html"):
			return ".html"
		case strings.Contains(mt, "json"):
			return ".json"
		case strings.Contains(mt, "text"):
			return ".txt"
		default:
			return ".bin"
		}
	}
	return exts[0]
}

// SaveFetch persists the headers+cookies JSON envelope and the raw body
// for a successful fetch.
func (a *Artifacts) SaveFetch(ctx context.Context, l link.Link, statusCode int, finalURL string, headers map[string][]string, cookies []string, body []byte, contentType string) error {
	base := fmt.Sprintf("%s/%s", l.ArtifactBase(), l.Hash.String())

	meta := fetchMeta{
		URL:        l.URL,
		FinalURL:   finalURL,
		StatusCode: statusCode,
		FetchedAt:  time.Now().UTC(),
		Headers:    headers,
		Cookies:    cookies,
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fetch meta: %w", err)
	}
	if _, err := a.blob.Put(ctx, base+".meta.json", metaJSON); err != nil {
		return fmt.Errorf("save fetch meta: %w", err)
	}
	if _, err := a.blob.Put(ctx, base+bodyExtension(contentType), body); err != nil {
		return fmt.Errorf("save fetch body: %w", err)
	}
	return nil
}

// SaveRender persists rendered HTML and its full-page screenshot.
func (a *Artifacts) SaveRender(ctx context.Context, l link.Link, html string, screenshot []byte) error {
	base := fmt.Sprintf("%s/%s", l.ArtifactBase(), l.Hash.String())
	if _, err := a.blob.Put(ctx, base+".rendered.html", []byte(html)); err != nil {
		return fmt.Errorf("save rendered html: %w", err)
	}
	if len(screenshot) > 0 {
		if _, err := a.blob.Put(ctx, base+".png", screenshot); err != nil {
			return fmt.Errorf("save screenshot: %w", err)
		}
	}
	return nil
}

// PutRaw writes an arbitrary blob at path, used by the submission sink's
// local fallback.
func (a *Artifacts) PutRaw(ctx context.Context, path string, data []byte) (string, error) {
	return a.blob.Put(ctx, path, data)
}

// AppendSinkFamily appends rawURL to misc/{family}.txt for a non-fetchable
// link family (§4.1 "no (save)").
func (a *Artifacts) AppendSinkFamily(ctx context.Context, family, rawURL string) error {
	return a.blob.Append(ctx, fmt.Sprintf("misc/%s.txt", family), rawURL)
}

// AppendLinkCSV appends a row to the append-only hash/URL log (P6: once a
// hash appears, it is never removed or rewritten).
func (a *Artifacts) AppendLinkCSV(ctx context.Context, h link.Hash, rawURL string) error {
	return a.blob.Append(ctx, "link.csv", fmt.Sprintf("%s,%s", h.String(), rawURL))
}

// SinkAppenderFunc adapts a function to sitehook.SinkAppender without importing
// the sitehook package here, avoiding an import cycle.
type SinkAppenderFunc func(ctx context.Context, family string, rawURL string) error

func (f SinkAppenderFunc) Append(ctx context.Context, family string, rawURL string) error {
	return f(ctx, family, rawURL)
}

// AsSinkAppender adapts AppendSinkFamily to the sitehook.SinkAppender shape.
func (a *Artifacts) AsSinkAppender() SinkAppenderFunc {
	return SinkAppenderFunc(a.AppendSinkFamily)
}
