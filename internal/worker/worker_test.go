package worker

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
	"github.com/any-hub/pwa-cache/internal/metrics"
	"github.com/any-hub/pwa-cache/internal/precache"
)

var defaultManifest = []string{"/", "/static/manifest.json", "/static/icon.png"}

// testOrigin 模拟应用源站，failPath 命中时返回 500，down 为 true 时直接断开连接。
type testOrigin struct {
	server   *httptest.Server
	hits     atomic.Int32
	failPath atomic.Value
	down     atomic.Bool
}

func newTestOrigin(t *testing.T) *testOrigin {
	t.Helper()
	origin := &testOrigin{}
	origin.failPath.Store("")
	origin.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin.hits.Add(1)
		if origin.down.Load() {
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
				return
			}
		}
		if fail, _ := origin.failPath.Load().(string); fail != "" && r.URL.Path == fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("origin:" + r.URL.RequestURI()))
	}))
	t.Cleanup(origin.server.Close)
	return origin
}

func (o *testOrigin) url(t *testing.T) *url.URL {
	t.Helper()
	parsed, err := url.Parse(o.server.URL)
	if err != nil {
		t.Fatalf("parse origin: %v", err)
	}
	return parsed
}

func newMemoryStore(t *testing.T) cache.Store {
	t.Helper()
	store, err := cache.NewStore(cache.DriverMemory, "")
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	return store
}

func newTestWorker(t *testing.T, store cache.Store, origin *testOrigin, version string, recorder *metrics.Recorder) *Worker {
	t.Helper()
	client := origin.server.Client()
	return New(Options{
		App:       "rahmen",
		Version:   version,
		Store:     store,
		Fetcher:   client,
		Precacher: precache.NewLoader(client, origin.url(t)),
		Manifest:  defaultManifest,
		Metrics:   recorder,
	})
}

func TestInstallPrecachesManifest(t *testing.T) {
	origin := newTestOrigin(t)
	store := newMemoryStore(t)
	w := newTestWorker(t, store, origin, "v3", nil)

	if w.State() != StateParsed {
		t.Fatalf("new worker should be parsed, got %s", w.State())
	}
	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("install error: %v", err)
	}
	if w.State() != StateInstalled || w.Executor() == nil {
		t.Fatalf("worker should be installed with an executor, state=%s", w.State())
	}

	bucket, _ := store.Open(context.Background(), "rahmen", "v3")
	for _, path := range defaultManifest {
		if _, err := bucket.Match(context.Background(), cache.Key{Method: http.MethodGet, Path: path}, cache.MatchOptions{}); err != nil {
			t.Fatalf("manifest entry %s missing: %v", path, err)
		}
	}
}

func TestInstallFailureMarksRedundantAndDiscardsVersion(t *testing.T) {
	origin := newTestOrigin(t)
	origin.failPath.Store("/static/icon.png")
	store := newMemoryStore(t)
	w := newTestWorker(t, store, origin, "v4", nil)

	err := w.Install(context.Background())
	if !errors.Is(err, ErrInstallFailed) || !errors.Is(err, precache.ErrManifestFetch) {
		t.Fatalf("expected install failure wrapping manifest error, got %v", err)
	}
	if w.State() != StateRedundant {
		t.Fatalf("failed worker should be redundant, got %s", w.State())
	}
	if info := w.Info(); !strings.Contains(info.Error, "icon.png") {
		t.Fatalf("info should carry failure: %+v", info)
	}
	versions, _ := store.Versions(context.Background(), "rahmen")
	if len(versions) != 0 {
		t.Fatalf("failed install must not leave a version behind: %v", versions)
	}
	if err := w.Activate(context.Background()); err == nil {
		t.Fatalf("redundant worker must not activate")
	}
}

func TestInstallReusesPreexistingVersionWhenOriginDown(t *testing.T) {
	origin := newTestOrigin(t)
	store := newMemoryStore(t)
	bucket, _ := store.Open(context.Background(), "rahmen", "v3")
	key := cache.Key{Method: http.MethodGet, Path: "/"}
	if err := bucket.Put(context.Background(), key, &cache.Response{Status: 200, Body: []byte("offline shell")}); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	origin.down.Store(true)
	w := newTestWorker(t, store, origin, "v3", nil)
	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("stored version should be reused, got %v", err)
	}
	if w.State() != StateInstalled || w.Executor() == nil {
		t.Fatalf("worker should be installed on the stored version, state=%s", w.State())
	}
	if info := w.Info(); info.Error == "" {
		t.Fatalf("precache failure should stay visible in diagnostics")
	}
	if _, err := bucket.Match(context.Background(), key, cache.MatchOptions{}); err != nil {
		t.Fatalf("pre-existing entries must survive failed precache: %v", err)
	}
}

func TestActivateDeletesStaleVersions(t *testing.T) {
	origin := newTestOrigin(t)
	store := newMemoryStore(t)
	recorder := metrics.New()
	for _, version := range []string{"v1", "v2"} {
		if _, err := store.Open(context.Background(), "rahmen", version); err != nil {
			t.Fatalf("seed %s: %v", version, err)
		}
	}
	if _, err := store.Open(context.Background(), "other-app", "v1"); err != nil {
		t.Fatalf("seed other app: %v", err)
	}

	w := newTestWorker(t, store, origin, "v3", recorder)
	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("install error: %v", err)
	}
	if err := w.Activate(context.Background()); err != nil {
		t.Fatalf("activate error: %v", err)
	}
	if w.State() != StateActivated {
		t.Fatalf("expected activated, got %s", w.State())
	}

	versions, _ := store.Versions(context.Background(), "rahmen")
	if len(versions) != 1 || versions[0] != "v3" {
		t.Fatalf("only current version should remain: %v", versions)
	}
	others, _ := store.Versions(context.Background(), "other-app")
	if len(others) != 1 {
		t.Fatalf("other app scopes must be untouched: %v", others)
	}
}

// flakyStore 让指定版本的删除失败。
type flakyStore struct {
	cache.Store
	failVersion string
}

func (s *flakyStore) Delete(ctx context.Context, scope, version string) (bool, error) {
	if version == s.failVersion {
		return false, errors.New("device busy")
	}
	return s.Store.Delete(ctx, scope, version)
}

func TestActivateToleratesDeleteFailure(t *testing.T) {
	origin := newTestOrigin(t)
	base := newMemoryStore(t)
	for _, version := range []string{"v1", "v2"} {
		if _, err := base.Open(context.Background(), "rahmen", version); err != nil {
			t.Fatalf("seed %s: %v", version, err)
		}
	}
	store := &flakyStore{Store: base, failVersion: "v1"}

	w := newTestWorker(t, store, origin, "v3", nil)
	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("install error: %v", err)
	}
	if err := w.Activate(context.Background()); err != nil {
		t.Fatalf("delete failure must not block activation: %v", err)
	}
	versions, _ := base.Versions(context.Background(), "rahmen")
	if strings.Join(versions, ",") != "v1,v3" {
		t.Fatalf("v1 should linger until next activation, got %v", versions)
	}
}

func TestActivateRequiresInstall(t *testing.T) {
	origin := newTestOrigin(t)
	w := newTestWorker(t, newMemoryStore(t), origin, "v3", nil)
	if err := w.Activate(context.Background()); err == nil {
		t.Fatalf("activate before install should fail")
	}
	if w.State() != StateParsed {
		t.Fatalf("state should stay parsed, got %s", w.State())
	}
}
