// Package metrics 提供 pwa-cache 的 Prometheus 指标，统一使用 "pwa_cache" 命名空间，
// 由 /-/metrics 暴露。
//
//   - requests_total:           每个代理请求的类别、来源与结果
//   - precache_total:           每次预缓存尝试的结果
//   - versions_deleted_total:   激活时删除的旧版本数量
//   - active_version:           当前控制流量的版本（值恒为 1）
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pwa_cache"

// 结果标签取值。
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Recorder 持有独立的 registry，避免测试之间共享全局状态。
// nil Recorder 的所有方法都是空操作。
type Recorder struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	precache        *prometheus.CounterVec
	versionsDeleted *prometheus.CounterVec
	activeVersion   *prometheus.GaugeVec

	mu      sync.Mutex
	current map[string]string
}

// New 创建 Recorder 并注册 Go 运行时与进程指标。
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Proxied requests by app, class, response source and outcome.",
			},
			[]string{"app", "class", "source", "outcome"},
		),
		precache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "precache_total",
				Help:      "Precache attempts by app and outcome.",
			},
			[]string{"app", "outcome"},
		),
		versionsDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "versions_deleted_total",
				Help:      "Stale cache versions deleted during activation.",
			},
			[]string{"app"},
		),
		activeVersion: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_version",
				Help:      "Cache version currently controlling an app (always 1).",
			},
			[]string{"app", "version"},
		),
		current: make(map[string]string),
	}
}

// ObserveRequest 记录一次代理请求。source 为空时记为 "none"（请求在拿到响应前失败）。
func (r *Recorder) ObserveRequest(app, class, source, outcome string) {
	if r == nil {
		return
	}
	if source == "" {
		source = "none"
	}
	r.requests.WithLabelValues(app, class, source, outcome).Inc()
}

// ObservePrecache 记录一次预缓存尝试。
func (r *Recorder) ObservePrecache(app, outcome string) {
	if r == nil {
		return
	}
	r.precache.WithLabelValues(app, outcome).Inc()
}

// VersionDeleted 记录一个被清理的旧版本。
func (r *Recorder) VersionDeleted(app string) {
	if r == nil {
		return
	}
	r.versionsDeleted.WithLabelValues(app).Inc()
}

// SetActiveVersion 切换 app 的当前版本，旧版本的 series 会被移除。
func (r *Recorder) SetActiveVersion(app, version string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if previous, ok := r.current[app]; ok && previous != version {
		r.activeVersion.DeleteLabelValues(app, previous)
	}
	r.current[app] = version
	r.activeVersion.WithLabelValues(app, version).Set(1)
}

// Gatherer 暴露底层 registry，供测试或其他 exporter 复用。
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler 返回 Prometheus 文本格式的 HTTP handler。
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
