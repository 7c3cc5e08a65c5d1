package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestChromedpDriverLoadCapturesRenderedHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<!doctype html><html><body><script>document.title = "rendered";document.body.innerHTML = '<div id="late">late content</div>';</script></body></html>`))
	}))
	defer srv.Close()

	driver, err := NewChromedpDriver(ChromedpOptions{
		UserAgent:     "duskcrawl-test/1.0",
		NavTimeout:    5 * time.Second,
		MaxConcurrent: 1,
	})
	if err != nil {
		t.Skipf("chromedp/chrome unavailable: %v", err)
	}
	defer driver.(interface{ Close() error }).Close()

	html, shot, err := driver.Load(context.Background(), srv.URL, 0)
	if err != nil {
		t.Skipf("render failed (headless chrome likely unavailable in this environment): %v", err)
	}
	if !strings.Contains(html, "late content") {
		t.Fatal("rendered html missing dynamic content")
	}
	if len(shot) == 0 {
		t.Fatal("expected a non-empty screenshot")
	}
}
