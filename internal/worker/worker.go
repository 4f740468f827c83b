// Package worker 管理单个 app 的缓存 worker 生命周期：
// parsed → installing → installed → activating → activated，失败或被取代时进入 redundant。
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/pwa-cache/internal/cache"
	"github.com/any-hub/pwa-cache/internal/classify"
	"github.com/any-hub/pwa-cache/internal/logging"
	"github.com/any-hub/pwa-cache/internal/metrics"
	"github.com/any-hub/pwa-cache/internal/strategy"
)

// ErrInstallFailed 表示预缓存失败，该 worker 已被丢弃。
var ErrInstallFailed = errors.New("worker install failed")

// State 是 worker 的生命周期状态。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Precacher 在安装阶段填充 bucket，precache.Loader 满足该接口。
type Precacher interface {
	Precache(ctx context.Context, bucket cache.Bucket, manifest []string) error
}

// Options 描述创建 worker 所需的全部依赖，Version 在 worker 生命周期内不可变。
type Options struct {
	App       string
	Version   string
	Store     cache.Store
	Fetcher   strategy.Fetcher
	Precacher Precacher
	Manifest  []string
	Rules     classify.Rules
	Profiles  map[classify.Class]classify.Profile
	Logger    *logrus.Logger
	Metrics   *metrics.Recorder
}

// Worker 对应一个 app 的一个缓存版本。
type Worker struct {
	opts Options

	mu          sync.RWMutex
	state       State
	bucket      cache.Bucket
	executor    *strategy.Executor
	installedAt time.Time
	activatedAt time.Time
	lastErr     error
}

// Info 是 worker 的只读快照，供诊断接口输出。
type Info struct {
	App         string    `json:"app"`
	Version     string    `json:"version"`
	State       State     `json:"state"`
	InstalledAt time.Time `json:"installed_at,omitempty"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// New 创建处于 parsed 状态的 worker。
func New(opts Options) *Worker {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Profiles == nil {
		opts.Profiles = classify.ResolveProfiles(classify.ProfileOptions{})
	}
	if opts.Rules == (classify.Rules{}) {
		opts.Rules = classify.DefaultRules()
	}
	return &Worker{opts: opts, state: StateParsed}
}

func (w *Worker) App() string     { return w.opts.App }
func (w *Worker) Version() string { return w.opts.Version }

// State 返回当前生命周期状态。
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Executor 返回绑定本版本 bucket 的策略执行器，安装完成前为 nil。
func (w *Worker) Executor() *strategy.Executor {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.executor
}

// Info 返回诊断快照。
func (w *Worker) Info() Info {
	w.mu.RLock()
	defer w.mu.RUnlock()
	info := Info{
		App:         w.opts.App,
		Version:     w.opts.Version,
		State:       w.state,
		InstalledAt: w.installedAt,
		ActivatedAt: w.activatedAt,
	}
	if w.lastErr != nil {
		info.Error = w.lastErr.Error()
	}
	return info
}

// Install 打开当前版本的 bucket 并预缓存清单。任一清单资源失败时 worker 变为 redundant，
// 本次新建的空版本会被删除，返回包裹 ErrInstallFailed 的错误。
// 同一版本在安装前已持久化（例如源站不可达时重启）时沿用已存条目完成安装，只记录预缓存失败。
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateParsed, StateInstalling); err != nil {
		return err
	}
	started := time.Now()
	logger := w.opts.Logger.WithFields(logging.WorkerFields("worker_install", w.opts.App, w.opts.Version))

	existed, listErr := w.versionExists(ctx)
	bucket, err := w.opts.Store.Open(ctx, w.opts.App, w.opts.Version)
	if err != nil {
		return w.failInstall(ctx, logger, err, listErr == nil && !existed)
	}

	var precacheErr error
	if w.opts.Precacher != nil {
		precacheErr = w.opts.Precacher.Precache(ctx, bucket, w.opts.Manifest)
	}
	if precacheErr != nil {
		if listErr != nil || !existed {
			return w.failInstall(ctx, logger, precacheErr, listErr == nil)
		}
		w.opts.Metrics.ObservePrecache(w.opts.App, metrics.OutcomeFailed)
		logger.WithError(precacheErr).Warn("precache failed, reusing stored cache version")
	} else {
		w.opts.Metrics.ObservePrecache(w.opts.App, metrics.OutcomeSuccess)
	}

	w.mu.Lock()
	w.bucket = bucket
	w.executor = strategy.New(w.opts.Fetcher, bucket, w.opts.Rules, w.opts.Profiles, w.opts.Logger)
	w.state = StateInstalled
	w.installedAt = time.Now()
	w.lastErr = precacheErr
	w.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"manifest":   len(w.opts.Manifest),
		"reused":     precacheErr != nil,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("worker installed")
	return nil
}

func (w *Worker) failInstall(ctx context.Context, logger *logrus.Entry, cause error, discard bool) error {
	w.opts.Metrics.ObservePrecache(w.opts.App, metrics.OutcomeFailed)
	if discard {
		w.discard(ctx, logger)
	}
	err := fmt.Errorf("%w: %s@%s: %w", ErrInstallFailed, w.opts.App, w.opts.Version, cause)
	w.fail(err)
	logger.WithError(err).Error("worker install failed")
	return err
}

// versionExists 判断当前版本是否在安装前就已存在。
func (w *Worker) versionExists(ctx context.Context) (bool, error) {
	versions, err := w.opts.Store.Versions(ctx, w.opts.App)
	if err != nil {
		return false, err
	}
	for _, version := range versions {
		if version == w.opts.Version {
			return true, nil
		}
	}
	return false, nil
}

// Activate 删除本 app 除当前版本外的所有版本，全部删除返回后才进入 activated。
// 删除或列举失败只记录日志，留到下一次激活清理，不会阻止激活。
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateInstalled, StateActivating); err != nil {
		return err
	}
	logger := w.opts.Logger.WithFields(logging.WorkerFields("worker_activate", w.opts.App, w.opts.Version))

	versions, err := w.opts.Store.Versions(ctx, w.opts.App)
	if err != nil {
		logger.WithError(err).Warn("list cache versions failed")
	}

	var group errgroup.Group
	for _, version := range versions {
		if version == w.opts.Version {
			continue
		}
		group.Go(func() error {
			w.deleteVersion(ctx, version)
			return nil
		})
	}
	_ = group.Wait()

	w.mu.Lock()
	w.state = StateActivated
	w.activatedAt = time.Now()
	w.mu.Unlock()

	logger.Info("worker activated")
	return nil
}

func (w *Worker) deleteVersion(ctx context.Context, version string) {
	logger := w.opts.Logger.WithFields(logging.WorkerFields("cache_version_deleted", w.opts.App, version))
	existed, err := w.opts.Store.Delete(ctx, w.opts.App, version)
	if err != nil {
		logger.WithError(err).Warn("delete stale cache version failed")
		return
	}
	if existed {
		w.opts.Metrics.VersionDeleted(w.opts.App)
		logger.WithField("current_version", w.opts.Version).Info("stale cache version deleted")
	}
}

// discard 删除安装失败版本留下的空 bucket。
func (w *Worker) discard(ctx context.Context, logger *logrus.Entry) {
	if _, err := w.opts.Store.Delete(context.WithoutCancel(ctx), w.opts.App, w.opts.Version); err != nil {
		logger.WithError(err).Warn("discard failed install")
	}
}

// markRedundant 在被新版本取代后调用。
func (w *Worker) markRedundant() {
	w.mu.Lock()
	w.state = StateRedundant
	w.mu.Unlock()
}

func (w *Worker) fail(err error) {
	w.mu.Lock()
	w.state = StateRedundant
	w.lastErr = err
	w.mu.Unlock()
}

func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return fmt.Errorf("worker %s@%s: cannot move to %s from %s", w.opts.App, w.opts.Version, to, w.state)
	}
	w.state = to
	return nil
}
