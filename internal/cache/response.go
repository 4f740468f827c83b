package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response 是可重复读取的 HTTP 响应快照。上游 Body 只能读一次，
// 因此写缓存和返回给调用方之前都必须先 Capture 成 Response。
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	URL      string
	StoredAt time.Time
}

// Capture 读完并关闭 resp.Body，返回完整快照。读取失败时不返回部分结果。
func Capture(resp *http.Response) (*Response, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}
	var body []byte
	if resp.Body != nil {
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		body = data
	}
	snap := &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}
	if snap.Header == nil {
		snap.Header = http.Header{}
	}
	if resp.Request != nil && resp.Request.URL != nil {
		snap.URL = resp.Request.URL.String()
	}
	return snap, nil
}

// Clone 深拷贝 header 与 body。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return &cloned
}

// HTTPResponse 生成一个带全新 Body reader 的 *http.Response，可多次调用。
func (r *Response) HTTPResponse(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.Status, http.StatusText(r.Status)),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// Cacheable 判断该响应能否写入缓存：仅 GET，2xx 且非 206，且不能带 Vary: *。
func Cacheable(method string, resp *Response) bool {
	if resp == nil || !strings.EqualFold(method, http.MethodGet) {
		return false
	}
	if resp.Status < 200 || resp.Status > 299 || resp.Status == http.StatusPartialContent {
		return false
	}
	for _, value := range resp.Header.Values("Vary") {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "*" {
				return false
			}
		}
	}
	return true
}
