package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Store 管理所有 app scope 的版本化缓存。磁盘布局（fs 驱动）遵循：
//
//	<StoragePath>/<scope>/<version>/<sha1(method path)>/<sha1(query)>.entry
//
// 每个 version 是一个独立的 bucket，只能整体删除。
type Store interface {
	// Open 返回 scope 下指定版本的 bucket，不存在时创建（与 caches.open 语义一致）。
	Open(ctx context.Context, scope, version string) (Bucket, error)

	// Versions 返回 scope 下所有已存在的版本标签，按字典序排列。
	Versions(ctx context.Context, scope string) ([]string, error)

	// Delete 删除整个版本及其全部条目，返回该版本此前是否存在。
	Delete(ctx context.Context, scope, version string) (bool, error)

	// Close 释放底层资源（数据库连接等）。
	Close() error
}

// Bucket 是单个版本的键值视图。实现需保证并发安全，同一 Key 的并发 Put 以最后一次为准。
type Bucket interface {
	Scope() string
	Version() string

	// Put 保存 resp 的独立副本，调用方之后对 resp 的修改不会影响已存储内容。
	Put(ctx context.Context, key Key, resp *Response) error

	// Match 返回命中条目的副本；未命中返回 ErrNotFound。
	Match(ctx context.Context, key Key, opts MatchOptions) (*Response, error)
}

// MatchOptions 控制 Match 的键比较方式。
type MatchOptions struct {
	// IgnoreQuery 为 true 时只比较 method + path，同路径多条记录时取最近写入的一条。
	IgnoreQuery bool
}

// Key 唯一定位 bucket 内的一条缓存（不含 origin 与 fragment）。
type Key struct {
	Method string
	Path   string
	Query  string
}

// KeyFor 根据请求构造缓存键，空 method 视为 GET，空 path 视为 "/"。
func KeyFor(req *http.Request) Key {
	key := Key{Method: http.MethodGet, Path: "/"}
	if req == nil {
		return key
	}
	if req.Method != "" {
		key.Method = strings.ToUpper(req.Method)
	}
	if req.URL != nil {
		if req.URL.Path != "" {
			key.Path = req.URL.Path
		}
		key.Query = req.URL.RawQuery
	}
	return key
}

// String 输出 "GET /path?query" 形式，便于日志与调试。
func (k Key) String() string {
	if k.Query == "" {
		return k.Method + " " + k.Path
	}
	return k.Method + " " + k.Path + "?" + k.Query
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidScope 表示 scope 或 version 名称不合法（为空、以 . 开头或包含路径分隔符）。
var ErrInvalidScope = errors.New("invalid cache scope or version")

// 支持的存储驱动。
const (
	DriverFS     = "fs"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// NewStore 根据驱动名构建缓存实例，整个进程复用一份。
func NewStore(driver, basePath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverFS:
		return newFileStore(basePath)
	case DriverSQLite:
		return newSQLiteStore(basePath)
	case DriverMemory:
		return newMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

func validateName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") {
		return ErrInvalidScope
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return ErrInvalidScope
	}
	return nil
}

func validateNames(scope, version string) error {
	if err := validateName(scope); err != nil {
		return fmt.Errorf("scope %q: %w", scope, err)
	}
	if err := validateName(version); err != nil {
		return fmt.Errorf("version %q: %w", version, err)
	}
	return nil
}
