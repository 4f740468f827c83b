package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecorderCountsRequests(t *testing.T) {
	rec := New()
	rec.ObserveRequest("rahmen", "dynamic", "network", OutcomeSuccess)
	rec.ObserveRequest("rahmen", "dynamic", "network", OutcomeSuccess)
	rec.ObserveRequest("rahmen", "static-media", "", OutcomeFailed)

	if got := counterValue(t, rec, "pwa_cache_requests_total", map[string]string{"class": "dynamic", "source": "network"}); got != 2 {
		t.Fatalf("expected 2 dynamic requests, got %v", got)
	}
	if got := counterValue(t, rec, "pwa_cache_requests_total", map[string]string{"source": "none", "outcome": OutcomeFailed}); got != 1 {
		t.Fatalf("expected failed request with source none, got %v", got)
	}
}

func TestSetActiveVersionReplacesPrevious(t *testing.T) {
	rec := New()
	rec.SetActiveVersion("rahmen", "v2")
	rec.SetActiveVersion("rahmen", "v3")

	if got := counterValue(t, rec, "pwa_cache_active_version", map[string]string{"version": "v2"}); got != 0 {
		t.Fatalf("previous version series should be removed, got %v", got)
	}
	if got := counterValue(t, rec, "pwa_cache_active_version", map[string]string{"version": "v3"}); got != 1 {
		t.Fatalf("current version gauge should be 1, got %v", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	rec.ObserveRequest("a", "b", "c", OutcomeSuccess)
	rec.ObservePrecache("a", OutcomeFailed)
	rec.VersionDeleted("a")
	rec.SetActiveVersion("a", "v1")
}

func TestHandlerExposesMetrics(t *testing.T) {
	rec := New()
	rec.ObservePrecache("rahmen", OutcomeSuccess)
	rec.VersionDeleted("rahmen")

	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/-/metrics", nil))
	body, _ := io.ReadAll(w.Result().Body)
	text := string(body)
	for _, name := range []string{"pwa_cache_precache_total", "pwa_cache_versions_deleted_total", "go_goroutines"} {
		if !strings.Contains(text, name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}

// counterValue 汇总名称与标签子集匹配的所有 series。
func counterValue(t *testing.T, rec *Recorder, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want == pair.GetValue() {
					matched++
				}
			}
			if matched != len(labels) {
				continue
			}
			if c := metric.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
	}
	return total
}
