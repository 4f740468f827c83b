package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/pwa-cache/internal/cache"
)

var supportedStoreDrivers = map[string]struct{}{
	cache.DriverFS:     {},
	cache.DriverSQLite: {},
	cache.DriverMemory: {},
}

const supportedStoreDriverList = "fs|sqlite|memory"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedStoreDrivers[g.StoreDriver]; !ok {
		return newFieldError("Global.StoreDriver", "仅支持 "+supportedStoreDriverList)
	}
	if g.StoreDriver != cache.DriverMemory && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	if len(c.Apps) == 0 {
		return errors.New("至少需要配置一个 App")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]string{}
	for i := range c.Apps {
		app := &c.Apps[i]
		if app.Name == "" {
			return newFieldError("App[].Name", "不能为空")
		}
		if !validStoreName(app.Name) {
			return newFieldError(appField(app.Name, "Name"), "不能包含路径分隔符或以 . 开头")
		}
		if _, exists := seenNames[app.Name]; exists {
			return newFieldError(appField(app.Name, "Name"), "重复")
		}
		seenNames[app.Name] = struct{}{}

		if err := validateDomain(app.Domain); err != nil {
			return fmt.Errorf("%s: %w", appField(app.Name, "Domain"), err)
		}
		if owner, exists := seenDomains[app.Domain]; exists {
			return newFieldError(appField(app.Name, "Domain"), "与 "+owner+" 重复")
		}
		seenDomains[app.Domain] = app.Name

		if err := validateUpstream(app.Origin); err != nil {
			return fmt.Errorf("%s: %w", appField(app.Name, "Origin"), err)
		}
		if app.Proxy != "" {
			if err := validateUpstream(app.Proxy); err != nil {
				return fmt.Errorf("%s: %w", appField(app.Name, "Proxy"), err)
			}
		}

		if app.CacheVersion == "" {
			return newFieldError(appField(app.Name, "CacheVersion"), "不能为空")
		}
		if !validStoreName(app.CacheVersion) {
			return newFieldError(appField(app.Name, "CacheVersion"), "不能包含路径分隔符或以 . 开头")
		}

		for _, entry := range app.Precache {
			if !strings.HasPrefix(strings.TrimSpace(entry), "/") {
				return newFieldError(appField(app.Name, "Precache"), fmt.Sprintf("必须为以 / 开头的同源路径: %q", entry))
			}
		}
		if app.APIPrefix == app.MediaPrefix {
			return newFieldError(appField(app.Name, "MediaPrefix"), "不能与 APIPrefix 相同")
		}
	}

	return nil
}

func validStoreName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
