package precache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/any-hub/pwa-cache/internal/cache"
)

func TestPrecacheStoresEveryManifestEntry(t *testing.T) {
	var hits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("body:" + r.URL.Path))
	}))
	defer origin.Close()

	bucket := openBucket(t)
	loader := NewLoader(origin.Client(), mustParse(t, origin.URL))
	manifest := []string{"/", "/static/manifest.json", "/static/icon.png"}
	if err := loader.Precache(context.Background(), bucket, manifest); err != nil {
		t.Fatalf("precache error: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 origin hits, got %d", hits.Load())
	}

	for _, path := range manifest {
		resp, err := bucket.Match(context.Background(), cache.Key{Method: http.MethodGet, Path: path}, cache.MatchOptions{})
		if err != nil {
			t.Fatalf("manifest entry %s missing: %v", path, err)
		}
		if string(resp.Body) != "body:"+path {
			t.Fatalf("unexpected body for %s: %s", path, resp.Body)
		}
	}
}

func TestPrecacheFailsAtomicallyOnBadStatus(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/static/icon.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer origin.Close()

	bucket := openBucket(t)
	loader := NewLoader(origin.Client(), mustParse(t, origin.URL))
	err := loader.Precache(context.Background(), bucket, []string{"/", "/static/manifest.json", "/static/icon.png"})
	if !errors.Is(err, ErrManifestFetch) {
		t.Fatalf("expected ErrManifestFetch, got %v", err)
	}
	if !strings.Contains(err.Error(), "/static/icon.png") {
		t.Fatalf("error should name failing path: %v", err)
	}

	for _, path := range []string{"/", "/static/manifest.json"} {
		if _, err := bucket.Match(context.Background(), cache.Key{Method: http.MethodGet, Path: path}, cache.MatchOptions{}); !errors.Is(err, cache.ErrNotFound) {
			t.Fatalf("no entry should be written on failure, %s got %v", path, err)
		}
	}
}

func TestPrecacheFailsOnTransportError(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	originURL := mustParse(t, origin.URL)
	origin.Close()

	loader := NewLoader(&http.Client{}, originURL)
	err := loader.Precache(context.Background(), openBucket(t), []string{"/"})
	if !errors.Is(err, ErrManifestFetch) {
		t.Fatalf("expected ErrManifestFetch, got %v", err)
	}
}

func TestPrecacheWithConcurrencyLimit(t *testing.T) {
	var inflight, peak atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		defer inflight.Add(-1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer origin.Close()

	loader := NewLoader(origin.Client(), mustParse(t, origin.URL)).WithConcurrency(1)
	manifest := []string{"/a", "/b", "/c", "/d"}
	if err := loader.Precache(context.Background(), openBucket(t), manifest); err != nil {
		t.Fatalf("precache error: %v", err)
	}
	if peak.Load() != 1 {
		t.Fatalf("expected at most 1 in-flight request, got %d", peak.Load())
	}
}

func TestNormalizeManifest(t *testing.T) {
	got := NormalizeManifest([]string{"/", " static/icon.png ", "", "/", "/static/icon.png"})
	want := []string{"/", "/static/icon.png"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("NormalizeManifest = %v, want %v", got, want)
	}
}

func openBucket(t *testing.T) cache.Bucket {
	t.Helper()
	store, err := cache.NewStore(cache.DriverMemory, "")
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	bucket, err := store.Open(context.Background(), "rahmen", "v3")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	return bucket
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return parsed
}
