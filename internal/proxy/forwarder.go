package proxy

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pwa-cache/internal/logging"
	"github.com/any-hub/pwa-cache/internal/server"
	"github.com/any-hub/pwa-cache/internal/strategy"
)

// Forwarder 根据 AppRoute 的 Registration 选择当前控制者 worker；
// 没有激活版本时以未受控方式直接回源。
type Forwarder struct {
	handler *Handler
	logger  *logrus.Logger
}

// NewForwarder 创建 Forwarder，handler 不能为空。
func NewForwarder(handler *Handler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		handler: handler,
		logger:  logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.AppRoute) error {
	requestID := server.RequestID(c)
	executor, version := f.lookup(route)
	if executor == nil {
		return f.respondMissingExecutor(c, route, requestID)
	}
	return f.invokeHandler(c, route, executor, version, requestID)
}

// lookup 在请求进入时读取一次控制者，之后激活的新版本只影响后续请求。
func (f *Forwarder) lookup(route *server.AppRoute) (*strategy.Executor, string) {
	if route == nil {
		return nil, ""
	}
	if route.Registration != nil {
		if controller := route.Registration.Controller(); controller != nil {
			if executor := controller.Executor(); executor != nil {
				return executor, controller.Version()
			}
		}
	}
	return route.Uncontrolled, ""
}

func (f *Forwarder) respondMissingExecutor(c fiber.Ctx, route *server.AppRoute, requestID string) error {
	f.logWorkerError(route, "worker_unavailable", nil, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "worker_unavailable"})
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, route *server.AppRoute, executor *strategy.Executor, version, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, route, r, requestID)
		}
	}()
	return f.handler.Serve(c, route, executor, version)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, route *server.AppRoute, recovered interface{}, requestID string) error {
	f.logWorkerError(route, "worker_panic", fmt.Errorf("panic: %v", recovered), requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "worker_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logWorkerError(route *server.AppRoute, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := f.routeFields(route, requestID)
	fields["action"] = "proxy"
	fields["error"] = code
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("worker unavailable")
}

func (f *Forwarder) routeFields(route *server.AppRoute, requestID string) logrus.Fields {
	var fields logrus.Fields
	if route == nil {
		fields = logging.RequestFields("", "", "", "", "")
	} else {
		fields = logging.RequestFields(route.Config.Name, route.Config.Domain, "", "", "")
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
