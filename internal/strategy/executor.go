// Package strategy 按请求类别执行 network-first / cache-first / network-only 策略，
// 并在成功回源后把响应副本写入当前版本的 bucket。
package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/pwa-cache/internal/cache"
	"github.com/any-hub/pwa-cache/internal/classify"
)

// Fetcher 执行一次回源请求，*http.Client 直接满足该接口。
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Source 描述最终响应的来源。
type Source string

const (
	SourceNetwork       Source = "network"
	SourceCache         Source = "cache"
	SourceCacheFallback Source = "cache-fallback"
)

// Result 是一次请求任务的结果。Execute 返回错误时 Response 为 nil，
// 但 Class 与 Strategy 仍然有效，供日志与指标使用。
type Result struct {
	Response *cache.Response
	Class    classify.Class
	Strategy classify.StrategyKind
	Source   Source
}

// Executor 绑定一个 worker 版本的 bucket、分类规则与类别策略。
// bucket 为 nil 时所有请求直接回源（未受控）。
type Executor struct {
	fetcher  Fetcher
	bucket   cache.Bucket
	rules    classify.Rules
	profiles map[classify.Class]classify.Profile
	logger   *logrus.Logger
}

// New 创建 Executor。profiles 缺少某个类别时回退到注册表中的默认 Profile。
func New(fetcher Fetcher, bucket cache.Bucket, rules classify.Rules, profiles map[classify.Class]classify.Profile, logger *logrus.Logger) *Executor {
	if fetcher == nil {
		fetcher = http.DefaultClient
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Executor{
		fetcher:  fetcher,
		bucket:   bucket,
		rules:    rules,
		profiles: profiles,
		logger:   logger,
	}
}

// Profile 返回 class 生效的策略参数。
func (e *Executor) Profile(class classify.Class) classify.Profile {
	if profile, ok := e.profiles[class]; ok {
		return profile
	}
	if profile, ok := classify.Lookup(class); ok {
		return profile
	}
	return classify.Profile{Class: class, Strategy: classify.StrategyNetworkOnly}
}

// Plan 返回 req 的类别与实际执行的策略，不发起任何 I/O。
// 只有 GET 请求会读写缓存，其余方法一律 network-only。
func (e *Executor) Plan(req *http.Request) (classify.Class, classify.Profile) {
	class := e.rules.Classify(req.URL.Path)
	profile := e.Profile(class)
	if e.bucket == nil || req.Method != http.MethodGet {
		profile.Strategy = classify.StrategyNetworkOnly
		profile.Store = false
		profile.IgnoreQuery = false
	}
	return class, profile
}

// Execute 对 req 执行所属类别的策略。每个任务最多一次回源与一次缓存回退，不重试。
func (e *Executor) Execute(ctx context.Context, req *http.Request) (*Result, error) {
	class, profile := e.Plan(req)
	result := &Result{Class: class, Strategy: profile.Strategy}

	var (
		resp   *cache.Response
		source Source
		err    error
	)
	switch profile.Strategy {
	case classify.StrategyNetworkFirst:
		resp, source, err = e.networkFirst(ctx, req, profile)
	case classify.StrategyCacheFirst:
		resp, source, err = e.cacheFirst(ctx, req, profile)
	default:
		resp, err = e.fetch(ctx, req)
		source = SourceNetwork
	}
	if err != nil {
		return result, err
	}
	result.Response = resp
	result.Source = source
	return result, nil
}

// networkFirst：回源成功即返回（可缓存时写入副本）；传输失败时精确匹配缓存兜底。
func (e *Executor) networkFirst(ctx context.Context, req *http.Request, profile classify.Profile) (*cache.Response, Source, error) {
	key := cache.KeyFor(req)
	resp, fetchErr := e.fetch(ctx, req)
	if fetchErr == nil {
		e.store(ctx, req, key, resp, profile)
		return resp, SourceNetwork, nil
	}

	cached, err := e.bucket.Match(ctx, key, cache.MatchOptions{IgnoreQuery: profile.IgnoreQuery})
	if err == nil {
		e.logger.WithFields(logrus.Fields{
			"action":        "cache_fallback",
			"key":           key.String(),
			"cache_version": e.bucket.Version(),
			"error":         fetchErr.Error(),
		}).Debug("network failed, served from cache")
		return cached, SourceCacheFallback, nil
	}
	if errors.Is(err, cache.ErrNotFound) {
		return nil, "", fetchErr
	}
	return nil, "", fmt.Errorf("cache fallback for %s: %w (network: %v)", key, err, fetchErr)
}

// cacheFirst：命中直接返回且不访问网络；未命中回源并写入副本，回源失败直接返回错误。
func (e *Executor) cacheFirst(ctx context.Context, req *http.Request, profile classify.Profile) (*cache.Response, Source, error) {
	key := cache.KeyFor(req)
	cached, err := e.bucket.Match(ctx, key, cache.MatchOptions{IgnoreQuery: profile.IgnoreQuery})
	if err == nil {
		return cached, SourceCache, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		e.logger.WithFields(logrus.Fields{
			"action": "cache_match_failed",
			"key":    key.String(),
		}).WithError(err).Warn("cache lookup failed, treating as miss")
	}

	resp, err := e.fetch(ctx, req)
	if err != nil {
		return nil, "", err
	}
	e.store(ctx, req, key, resp, profile)
	return resp, SourceNetwork, nil
}

func (e *Executor) fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	upstream, err := e.fetcher.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return cache.Capture(upstream)
}

// store 写入失败只记录日志，不影响已拿到的响应。
func (e *Executor) store(ctx context.Context, req *http.Request, key cache.Key, resp *cache.Response, profile classify.Profile) {
	if !profile.Store || !cache.Cacheable(req.Method, resp) {
		return
	}
	if err := e.bucket.Put(ctx, key, resp); err != nil {
		e.logger.WithFields(logrus.Fields{
			"action":        "cache_store_failed",
			"key":           key.String(),
			"cache_version": e.bucket.Version(),
		}).WithError(err).Warn("cache write failed")
	}
}
