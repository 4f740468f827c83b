package classify

import (
	"path"
	"strings"
)

// 默认路径约定。
const (
	DefaultAPIPrefix   = "/api/"
	DefaultMediaPrefix = "/static/images/"
)

// Rules 保存一个 worker 版本固定不变的分类前缀。
type Rules struct {
	APIPrefix   string
	MediaPrefix string
}

// DefaultRules 返回默认路径约定。
func DefaultRules() Rules {
	return Rules{APIPrefix: DefaultAPIPrefix, MediaPrefix: DefaultMediaPrefix}
}

// NewRules 规范化前缀（补齐首尾 "/"），空值回退默认值。
func NewRules(apiPrefix, mediaPrefix string) Rules {
	return Rules{
		APIPrefix:   normalizePrefix(apiPrefix, DefaultAPIPrefix),
		MediaPrefix: normalizePrefix(mediaPrefix, DefaultMediaPrefix),
	}
}

// Classify 按 dynamic → static-media → passthrough 的顺序判定类别，结果只取决于 path。
func (r Rules) Classify(rawPath string) Class {
	clean := CleanPath(rawPath)
	switch {
	case clean == "/" || strings.HasPrefix(clean, r.APIPrefix):
		return ClassDynamic
	case strings.HasPrefix(clean, r.MediaPrefix):
		return ClassStaticMedia
	default:
		return ClassPassthrough
	}
}

// CleanPath 去掉 ".."、重复斜杠等，同时保留结尾斜杠（"/api/" 仍属于 API 前缀）。
func CleanPath(raw string) string {
	if raw == "" {
		return "/"
	}
	clean := path.Clean("/" + raw)
	if strings.HasSuffix(raw, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}

func normalizePrefix(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return raw
}
