package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// memoryStore 仅保存在进程内，适用于测试或不需要重启保留缓存的部署。
type memoryStore struct {
	mu     sync.RWMutex
	scopes map[string]map[string]*memoryBucket
}

type memoryBucket struct {
	scope   string
	version string

	mu      sync.RWMutex
	entries map[Key]*Response
}

func newMemoryStore() *memoryStore {
	return &memoryStore{scopes: make(map[string]map[string]*memoryBucket)}
}

func (s *memoryStore) Open(ctx context.Context, scope, version string) (Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateNames(scope, version); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.scopes[scope]
	if versions == nil {
		versions = make(map[string]*memoryBucket)
		s.scopes[scope] = versions
	}
	bucket := versions[version]
	if bucket == nil {
		bucket = &memoryBucket{scope: scope, version: version, entries: make(map[Key]*Response)}
		versions[version] = bucket
	}
	return bucket, nil
}

func (s *memoryStore) Versions(ctx context.Context, scope string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName(scope); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := make([]string, 0, len(s.scopes[scope]))
	for version := range s.scopes[scope] {
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions, nil
}

func (s *memoryStore) Delete(ctx context.Context, scope, version string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validateNames(scope, version); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scopes[scope][version]; !ok {
		return false, nil
	}
	delete(s.scopes[scope], version)
	return true, nil
}

func (s *memoryStore) Close() error {
	return nil
}

func (b *memoryBucket) Scope() string   { return b.scope }
func (b *memoryBucket) Version() string { return b.version }

func (b *memoryBucket) Put(ctx context.Context, key Key, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if resp == nil {
		return errors.New("nil response")
	}
	stored := resp.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now().UTC()
	}
	b.mu.Lock()
	b.entries[key] = stored
	b.mu.Unlock()
	return nil
}

func (b *memoryBucket) Match(ctx context.Context, key Key, opts MatchOptions) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !opts.IgnoreQuery {
		if resp, ok := b.entries[key]; ok {
			return resp.Clone(), nil
		}
		return nil, ErrNotFound
	}
	var latest *Response
	for candidate, resp := range b.entries {
		if candidate.Method != key.Method || candidate.Path != key.Path {
			continue
		}
		if latest == nil || resp.StoredAt.After(latest.StoredAt) {
			latest = resp
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}
