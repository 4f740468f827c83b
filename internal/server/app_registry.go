package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/pwa-cache/internal/cache"
	"github.com/any-hub/pwa-cache/internal/config"
	"github.com/any-hub/pwa-cache/internal/metrics"
	"github.com/any-hub/pwa-cache/internal/precache"
	"github.com/any-hub/pwa-cache/internal/strategy"
	"github.com/any-hub/pwa-cache/internal/worker"
)

// AppRoute 将 App 配置与派生属性（解析后的 Origin/Proxy URL、分类规则、Registration）
// 聚合在一起，供路由/代理层直接复用，避免重复解析配置。
type AppRoute struct {
	// Config 是用户在 config.toml 中声明的 App 字段副本。
	Config config.AppConfig
	// ListenPort 记录当前监听端口，用于 X-Forwarded-Port。
	ListenPort int
	OriginURL  *url.URL
	ProxyURL   *url.URL
	// Client 是该 app 的回源 client，配置 Proxy 时带独立 transport。
	Client *http.Client
	// Runtime 保存分类规则、类别策略与预缓存清单。
	Runtime config.AppRuntime
	// Registration 跨配置重载保持不变，持有当前控制者 worker。
	Registration *worker.Registration
	// Uncontrolled 在没有激活版本时使用，所有请求直接回源。
	Uncontrolled *strategy.Executor
}

// WorkerDeps 是创建 worker 时共享的依赖。
type WorkerDeps struct {
	Store   cache.Store
	Logger  *logrus.Logger
	Metrics *metrics.Recorder
}

// NewWorker 基于路由当前的配置创建一个 parsed 状态的 worker。
func (r *AppRoute) NewWorker(deps WorkerDeps) *worker.Worker {
	return worker.New(worker.Options{
		App:       r.Config.Name,
		Version:   r.Config.CacheVersion,
		Store:     deps.Store,
		Fetcher:   r.Client,
		Precacher: precache.NewLoader(r.Client, r.OriginURL),
		Manifest:  r.Runtime.Manifest,
		Rules:     r.Runtime.Rules,
		Profiles:  r.Runtime.Profiles,
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
	})
}

// AppRegistry 提供 Host/Host:port 到 AppRoute 的查询能力，所有 App 共享同一个监听端口。
type AppRegistry struct {
	client  *http.Client
	logger  *logrus.Logger
	metrics *metrics.Recorder

	mu            sync.RWMutex
	routes        map[string]*AppRoute
	ordered       []*AppRoute
	registrations map[string]*worker.Registration
}

// NewAppRegistry 根据配置构建 Host 映射。调用方应在启动阶段创建一次并复用，
// 配置变更时调用 Reload。
func NewAppRegistry(cfg *config.Config, client *http.Client, logger *logrus.Logger, recorder *metrics.Recorder) (*AppRegistry, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	registry := &AppRegistry{
		client:        client,
		logger:        logger,
		metrics:       recorder,
		registrations: make(map[string]*worker.Registration),
	}
	if err := registry.Reload(cfg); err != nil {
		return nil, err
	}
	return registry, nil
}

// Reload 用新配置重建路由表。同名 app 复用原 Registration，
// 当前控制者继续服务直到新版本激活。
func (r *AppRegistry) Reload(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	routes := make(map[string]*AppRoute, len(cfg.Apps))
	ordered := make([]*AppRoute, 0, len(cfg.Apps))
	registrations := make(map[string]*worker.Registration, len(cfg.Apps))
	for _, app := range cfg.Apps {
		normalizedHost := normalizeDomain(app.Domain)
		if normalizedHost == "" {
			return fmt.Errorf("invalid domain for app %s", app.Name)
		}
		if _, exists := routes[normalizedHost]; exists {
			return fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
		}

		registration := r.registrations[app.Name]
		if registration == nil {
			registration = worker.NewRegistration(app.Name, r.logger, r.metrics)
		}
		route, err := r.buildAppRoute(cfg, app, registration)
		if err != nil {
			return err
		}

		routes[normalizedHost] = route
		ordered = append(ordered, route)
		registrations[app.Name] = registration
	}

	r.routes = routes
	r.ordered = ordered
	r.registrations = registrations
	return nil
}

// Lookup 根据 Host 或 Host:port 查找 AppRoute。
func (r *AppRegistry) Lookup(host string) (*AppRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[normalizedHost]
	return route, ok
}

// Find 按 app 名称查找路由。
func (r *AppRegistry) Find(name string) (*AppRoute, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, route := range r.ordered {
		if route.Config.Name == name {
			return route, true
		}
	}
	return nil, false
}

// List 返回当前注册的 AppRoute 列表（按配置定义的顺序），用于启动安装与诊断输出。
func (r *AppRegistry) List() []*AppRoute {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.ordered) == 0 {
		return nil
	}
	return append([]*AppRoute(nil), r.ordered...)
}

func (r *AppRegistry) buildAppRoute(cfg *config.Config, app config.AppConfig, registration *worker.Registration) (*AppRoute, error) {
	originURL, err := url.Parse(app.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin for app %s: %w", app.Name, err)
	}

	var proxyURL *url.URL
	if app.Proxy != "" {
		proxyURL, err = url.Parse(app.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy for app %s: %w", app.Name, err)
		}
	}

	client := NewAppClient(r.client, proxyURL)
	runtime := config.BuildAppRuntime(app)
	return &AppRoute{
		Config:       app,
		ListenPort:   cfg.Global.ListenPort,
		OriginURL:    originURL,
		ProxyURL:     proxyURL,
		Client:       client,
		Runtime:      runtime,
		Registration: registration,
		Uncontrolled: strategy.New(client, nil, runtime.Rules, runtime.Profiles, r.logger),
	}, nil
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
