package cache

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	entrySuffix = ".entry"
	trashPrefix = ".deleting-"
)

// newFileStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func newFileStore(basePath string) (*fileStore, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入，同时复用 basePath。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// entryMeta 是 .entry 文件首行的 JSON 元数据，之后紧跟原始 body。
type entryMeta struct {
	Method   string      `json:"method"`
	Path     string      `json:"path"`
	Query    string      `json:"query"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	URL      string      `json:"url,omitempty"`
	StoredAt time.Time   `json:"stored_at"`
	Size     int64       `json:"size"`
}

type fileBucket struct {
	store   *fileStore
	scope   string
	version string
	dir     string
}

func (s *fileStore) Open(ctx context.Context, scope, version string) (Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateNames(scope, version); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.basePath, scope, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create version dir: %w", err)
	}
	s.sweepTrash(scope)
	return &fileBucket{store: s, scope: scope, version: version, dir: dir}, nil
}

func (s *fileStore) Versions(ctx context.Context, scope string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName(scope); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(filepath.Join(s.basePath, scope))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	versions := make([]string, 0, len(items))
	for _, item := range items {
		if item.IsDir() && !strings.HasPrefix(item.Name(), ".") {
			versions = append(versions, item.Name())
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// Delete 删除整个版本目录。与之并发的 Put 可能重新创建目录，
// 此时旧条目会残留到下一次激活再清理。
func (s *fileStore) Delete(ctx context.Context, scope, version string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validateNames(scope, version); err != nil {
		return false, err
	}
	dir := filepath.Join(s.basePath, scope, version)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	// 先改名再删除，避免删除过程中 Match 读到半个目录。
	trash := filepath.Join(s.basePath, scope, fmt.Sprintf("%s%s-%d", trashPrefix, version, time.Now().UnixNano()))
	if err := os.Rename(dir, trash); err != nil {
		return false, err
	}
	if err := os.RemoveAll(trash); err != nil {
		return true, err
	}
	return true, nil
}

// sweepTrash 清理此前 RemoveAll 失败留下的 .deleting-* 目录，失败时等待下一次 Open。
func (s *fileStore) sweepTrash(scope string) {
	scopeDir := filepath.Join(s.basePath, scope)
	items, err := os.ReadDir(scopeDir)
	if err != nil {
		return
	}
	for _, item := range items {
		if item.IsDir() && strings.HasPrefix(item.Name(), trashPrefix) {
			_ = os.RemoveAll(filepath.Join(scopeDir, item.Name()))
		}
	}
}

func (s *fileStore) Close() error {
	return nil
}

func (b *fileBucket) Scope() string   { return b.scope }
func (b *fileBucket) Version() string { return b.version }

func (b *fileBucket) Put(ctx context.Context, key Key, resp *Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	filePath := b.entryPath(key)
	unlock := b.store.lockEntry(filePath)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	meta := entryMeta{
		Method:   key.Method,
		Path:     key.Path,
		Query:    key.Query,
		Status:   resp.Status,
		Header:   resp.Header,
		URL:      resp.URL,
		StoredAt: storedAt,
		Size:     int64(len(resp.Body)),
	}
	line, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode entry meta: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(append(line, '\n'))
	if err == nil {
		_, err = copyWithContext(ctx, tempFile, bytes.NewReader(resp.Body))
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (b *fileBucket) Match(ctx context.Context, key Key, opts MatchOptions) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !opts.IgnoreQuery {
		return readEntry(b.entryPath(key))
	}

	dir := filepath.Join(b.dir, pathHash(key))
	items, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var latest *Response
	for _, item := range items {
		if item.IsDir() || !strings.HasSuffix(item.Name(), entrySuffix) {
			continue
		}
		resp, err := readEntry(filepath.Join(dir, item.Name()))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if latest == nil || resp.StoredAt.After(latest.StoredAt) {
			latest = resp
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (b *fileBucket) entryPath(key Key) string {
	return filepath.Join(b.dir, pathHash(key), hashString(key.Query)+entrySuffix)
}

func readEntry(filePath string) (*Response, error) {
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	reader := bufio.NewReader(f)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read entry meta: %w", err)
	}
	var meta entryMeta
	if err := json.Unmarshal(line, &meta); err != nil {
		return nil, fmt.Errorf("decode entry meta: %w", err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read entry body: %w", err)
	}
	if int64(len(body)) != meta.Size {
		return nil, fmt.Errorf("entry %s truncated: want %d bytes, got %d", filePath, meta.Size, len(body))
	}
	header := meta.Header
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		Status:   meta.Status,
		Header:   header,
		Body:     body,
		URL:      meta.URL,
		StoredAt: meta.StoredAt,
	}, nil
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func pathHash(key Key) string {
	return hashString(key.Method + " " + key.Path)
}

func hashString(value string) string {
	sum := sha1.Sum([]byte(value))
	return hex.EncodeToString(sum[:])
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
