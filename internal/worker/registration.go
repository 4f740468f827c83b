package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/pwa-cache/internal/logging"
	"github.com/any-hub/pwa-cache/internal/metrics"
)

// Registration 持有一个 app 的控制者 worker。控制权切换是一次原子指针替换，
// 在此之前进入的请求继续由旧 worker 完成。
type Registration struct {
	app     string
	logger  *logrus.Logger
	metrics *metrics.Recorder

	mu         sync.Mutex
	controller atomic.Pointer[Worker]
	latest     atomic.Pointer[Worker]
}

// NewRegistration 创建尚无控制者的 Registration，此时请求直接回源。
func NewRegistration(app string, logger *logrus.Logger, recorder *metrics.Recorder) *Registration {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registration{app: app, logger: logger, metrics: recorder}
}

// App 返回所属 app 名称。
func (r *Registration) App() string { return r.app }

// Controller 返回当前控制者，未激活任何版本时为 nil。
func (r *Registration) Controller() *Worker {
	return r.controller.Load()
}

// Latest 返回最近一次 Register 的 worker（可能安装失败）。
func (r *Registration) Latest() *Worker {
	return r.latest.Load()
}

// Register 安装并立即激活 w，然后接管全部请求。安装失败时 w 变为 redundant，
// 原控制者继续服务。与当前控制者版本相同时不做任何事。
// Register 串行执行，同一 app 同一时刻只有一个版本在安装或激活。
func (r *Registration) Register(ctx context.Context, w *Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current := r.controller.Load(); current != nil && current.Version() == w.Version() {
		return nil
	}
	r.latest.Store(w)

	if err := w.Install(ctx); err != nil {
		return err
	}
	if err := w.Activate(ctx); err != nil {
		return err
	}
	r.claim(w)
	return nil
}

// claim 让 w 成为控制者，并把旧控制者标记为 redundant。
func (r *Registration) claim(w *Worker) {
	previous := r.controller.Swap(w)
	fields := logging.WorkerFields("clients_claimed", r.app, w.Version())
	if previous != nil {
		previous.markRedundant()
		fields["previous_version"] = previous.Version()
	}
	r.metrics.SetActiveVersion(r.app, w.Version())
	r.logger.WithFields(fields).Info("worker now controls app")
}
