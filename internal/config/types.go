package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/pwa-cache/internal/classify"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// DefaultPrecache 是未配置 Precache 时使用的壳资源清单。
var DefaultPrecache = []string{"/", "/static/manifest.json", "/static/icon.png"}

// GlobalConfig 描述全局运行时行为，所有 App 共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StoreDriver     string   `mapstructure:"StoreDriver"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// AppConfig 描述一个被代理的 Web 应用（对应一个 service worker scope）。
type AppConfig struct {
	Name   string `mapstructure:"Name"`
	Domain string `mapstructure:"Domain"`
	Origin string `mapstructure:"Origin"`
	Proxy  string `mapstructure:"Proxy"`
	// CacheVersion 是当前缓存版本标签，进程生命周期内不可变，换版本即换 worker。
	CacheVersion     string   `mapstructure:"CacheVersion"`
	Precache         []string `mapstructure:"Precache"`
	APIPrefix        string   `mapstructure:"APIPrefix"`
	MediaPrefix      string   `mapstructure:"MediaPrefix"`
	MediaIgnoreQuery *bool    `mapstructure:"MediaIgnoreQuery"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Apps   []AppConfig  `mapstructure:"App"`
}

// Rules 返回 app 生效的分类前缀。
func (a AppConfig) Rules() classify.Rules {
	return classify.NewRules(a.APIPrefix, a.MediaPrefix)
}

// ProfileOverrides 将 app 层配置映射为类别策略覆盖项。
func (a AppConfig) ProfileOverrides() classify.ProfileOptions {
	return classify.ProfileOptions{MediaIgnoreQuery: a.MediaIgnoreQuery}
}

// Versions 返回所有 App 的版本摘要，例如 gallery:v3，供启动日志使用。
func Versions(apps []AppConfig) []string {
	if len(apps) == 0 {
		return nil
	}
	result := make([]string, len(apps))
	for i, app := range apps {
		result[i] = fmt.Sprintf("%s:%s", app.Name, app.CacheVersion)
	}
	return result
}

// FindApp 按名称查找 App 配置。
func (c *Config) FindApp(name string) (AppConfig, bool) {
	if c == nil {
		return AppConfig{}, false
	}
	for _, app := range c.Apps {
		if app.Name == name {
			return app, true
		}
	}
	return AppConfig{}, false
}
