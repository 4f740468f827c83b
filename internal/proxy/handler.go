package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pwa-cache/internal/logging"
	"github.com/any-hub/pwa-cache/internal/metrics"
	"github.com/any-hub/pwa-cache/internal/server"
	"github.com/any-hub/pwa-cache/internal/strategy"
)

// 响应诊断头。
const (
	HeaderCacheClass   = "X-Pwa-Cache-Class"
	HeaderCacheSource  = "X-Pwa-Cache-Source"
	HeaderCacheVersion = "X-Pwa-Cache-Version"
)

// Handler 将 Fiber 请求转换为面向 origin 的 *http.Request，交给策略执行器，
// 再把结果写回客户端。失败的任务统一返回 502，不合成占位内容。
type Handler struct {
	logger  *logrus.Logger
	metrics *metrics.Recorder
}

// NewHandler constructs a proxy handler with shared logger/metrics.
func NewHandler(logger *logrus.Logger, recorder *metrics.Recorder) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		logger:  logger,
		metrics: recorder,
	}
}

// Serve 使用 executor 处理一次请求。version 为空表示请求未受任何 worker 控制。
func (h *Handler) Serve(c fiber.Ctx, route *server.AppRoute, executor *strategy.Executor, version string) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	upstreamURL := resolveUpstreamURL(route.OriginURL, c)
	req, err := h.buildUpstreamRequest(ctx, c, upstreamURL, route)
	if err != nil {
		h.logResult(route, version, "", "", upstreamURL.String(), requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	result, err := executor.Execute(ctx, req)
	class := string(result.Class)
	if class != "" {
		c.Set(HeaderCacheClass, class)
	}
	if version != "" {
		c.Set(HeaderCacheVersion, version)
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	if err != nil {
		h.metrics.ObserveRequest(route.Config.Name, class, "", metrics.OutcomeFailed)
		h.logResult(route, version, class, "", upstreamURL.String(), requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	resp := result.Response
	copyResponseHeaders(c, resp.Header)
	c.Set(HeaderCacheSource, string(result.Source))
	c.Status(resp.Status)

	h.metrics.ObserveRequest(route.Config.Name, class, string(result.Source), metrics.OutcomeSuccess)
	h.logResult(route, version, class, string(result.Source), upstreamURL.String(), requestID, resp.Status, started, nil)
	if c.Method() == http.MethodHead {
		return nil
	}
	return c.Send(resp.Body)
}

func (h *Handler) buildUpstreamRequest(ctx context.Context, c fiber.Ctx, upstream *url.URL, route *server.AppRoute) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, c.Method(), upstream.String(), bytesReader(c.Body()))
	if err != nil {
		return nil, err
	}

	requestHeaders := fiberHeadersAsHTTP(c)
	server.CopyHeaders(req.Header, requestHeaders)
	req.Header.Del("Accept-Encoding")
	req.Host = upstream.Host
	req.Header.Set("Host", upstream.Host)
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	req.Header.Set("X-Forwarded-Port", routePort(route))
	return req, nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.AppRoute,
	version string,
	class string,
	source string,
	upstream string,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(route.Config.Name, route.Config.Domain, version, class, source)
	fields["upstream"] = upstream
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["action"] = "proxy_failed"
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	fields["action"] = "proxy_complete"
	h.logger.WithFields(fields).Info("proxy_complete")
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(append([]byte(nil), b...))
}

// resolveUpstreamURL 保留原始 query，路径做 Clean，避免 ../ 逃出 origin 路径。
func resolveUpstreamURL(base *url.URL, c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	rawQuery := string(uri.QueryString())
	clean := normalizeRequestPath(string(uri.Path()))
	relative := &url.URL{Path: clean}
	if rawQuery != "" {
		relative.RawQuery = rawQuery
	}
	return base.ResolveReference(relative)
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		return "/"
	}
	clean := path.Clean("/" + raw)
	if strings.HasSuffix(raw, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 跳过 hop-by-hop 与 Content-Length（由 body 重新计算），多值头逐个追加。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}

func routePort(route *server.AppRoute) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return fmt.Sprintf("%d", route.ListenPort)
}
