// Package precache 在 worker 安装阶段拉取壳资源清单并写入当前版本的缓存。
package precache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/any-hub/pwa-cache/internal/cache"
)

// ErrManifestFetch 表示清单中至少有一个资源未能成功拉取。
var ErrManifestFetch = errors.New("precache manifest fetch failed")

// Doer 是回源所需的最小 HTTP 能力，*http.Client 直接满足。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Loader 负责按清单预取资源。
type Loader struct {
	client Doer
	origin *url.URL
	// limit 为 0 时不限制并发。
	limit int
}

// NewLoader 创建一个以 origin 为基准地址的 Loader。
func NewLoader(client Doer, origin *url.URL) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{client: client, origin: origin}
}

// WithConcurrency 限制同时进行的回源请求数。
func (l *Loader) WithConcurrency(limit int) *Loader {
	l.limit = limit
	return l
}

type fetched struct {
	key  cache.Key
	resp *cache.Response
}

// Precache 并发拉取 manifest 中的所有路径；全部成功后才写入 bucket。
// 任一路径失败时返回包裹 ErrManifestFetch 的错误，bucket 保持不变。
func (l *Loader) Precache(ctx context.Context, bucket cache.Bucket, manifest []string) error {
	if bucket == nil {
		return errors.New("precache: nil bucket")
	}
	paths := NormalizeManifest(manifest)
	results := make([]fetched, len(paths))

	group, groupCtx := errgroup.WithContext(ctx)
	if l.limit > 0 {
		group.SetLimit(l.limit)
	}
	for i, entry := range paths {
		group.Go(func() error {
			item, err := l.fetch(groupCtx, entry)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrManifestFetch, entry, err)
			}
			results[i] = item
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for _, item := range results {
		if err := bucket.Put(ctx, item.key, item.resp); err != nil {
			return fmt.Errorf("precache store %s: %w", item.key, err)
		}
	}
	return nil
}

func (l *Loader) fetch(ctx context.Context, entry string) (fetched, error) {
	target, err := l.resolve(entry)
	if err != nil {
		return fetched{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fetched{}, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return fetched{}, err
	}
	snapshot, err := cache.Capture(resp)
	if err != nil {
		return fetched{}, err
	}
	if snapshot.Status < 200 || snapshot.Status > 299 {
		return fetched{}, fmt.Errorf("unexpected status %d", snapshot.Status)
	}
	return fetched{key: cache.KeyFor(req), resp: snapshot}, nil
}

func (l *Loader) resolve(entry string) (*url.URL, error) {
	if l.origin == nil {
		return nil, errors.New("origin not configured")
	}
	ref, err := url.Parse(entry)
	if err != nil {
		return nil, err
	}
	return l.origin.ResolveReference(ref), nil
}

// NormalizeManifest 去除空白与重复项并补齐前导 "/"，保留原顺序。
func NormalizeManifest(manifest []string) []string {
	seen := make(map[string]struct{}, len(manifest))
	result := make([]string, 0, len(manifest))
	for _, entry := range manifest {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.HasPrefix(entry, "/") {
			entry = "/" + entry
		}
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		result = append(result, entry)
	}
	return result
}
