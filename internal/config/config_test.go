package config

import (
	"strings"
	"testing"
	"time"

	"github.com/any-hub/pwa-cache/internal/cache"
	"github.com/any-hub/pwa-cache/internal/classify"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被保留")
	}
	if cfg.Global.ListenPort == 0 {
		t.Fatalf("ListenPort 应当被解析")
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 10*time.Second {
		t.Fatalf("UpstreamTimeout 解析错误: %v", cfg.Global.UpstreamTimeout.DurationValue())
	}
	app := cfg.Apps[0]
	if app.Origin != "http://127.0.0.1:8080" {
		t.Fatalf("Origin 末尾斜杠应被去除: %s", app.Origin)
	}
	if app.APIPrefix != classify.DefaultAPIPrefix || app.MediaPrefix != classify.DefaultMediaPrefix {
		t.Fatalf("前缀应填充默认值: %s %s", app.APIPrefix, app.MediaPrefix)
	}
	if strings.Join(app.Precache, ",") != strings.Join(DefaultPrecache, ",") {
		t.Fatalf("未配置 Precache 时应使用默认清单: %v", app.Precache)
	}
}

func TestValidateRejectsBadApp(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestStoreDriverValidation(t *testing.T) {
	testCases := []struct {
		name      string
		driver    string
		storage   string
		shouldErr bool
	}{
		{"fs ok", cache.DriverFS, "./data", false},
		{"sqlite ok", cache.DriverSQLite, "./data", false},
		{"memory without path", cache.DriverMemory, "", false},
		{"fs without path", cache.DriverFS, "", true},
		{"unsupported", "redis", "./data", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.StoreDriver = tc.driver
			cfg.Global.StoragePath = tc.storage
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for driver %q", tc.driver)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for driver %q: %v", tc.driver, err)
			}
		})
	}
}

func TestValidateCacheVersion(t *testing.T) {
	testCases := []struct {
		name      string
		version   string
		shouldErr bool
	}{
		{"plain", "rahmen-cache-v3", false},
		{"empty", "", true},
		{"dot dot", "..", true},
		{"leading dot", ".v3", true},
		{"slash", "v3/evil", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Apps[0].CacheVersion = tc.version
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for version %q", tc.version)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for version %q: %v", tc.version, err)
			}
		})
	}
}

func TestValidateReportsFieldPath(t *testing.T) {
	cfg := validConfig()
	cfg.Apps[0].Origin = "ftp://origin.local"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("非 http Origin 应报错")
	}
	if !strings.Contains(err.Error(), "App[rahmen].Origin") {
		t.Fatalf("错误应包含字段路径: %v", err)
	}
}

func TestValidateRejectsDuplicates(t *testing.T) {
	cfg := validConfig()
	dup := cfg.Apps[0]
	dup.Name = "other"
	cfg.Apps = append(cfg.Apps, dup)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复 Domain 应报错")
	}

	cfg = validConfig()
	dup = cfg.Apps[0]
	dup.Domain = "other.local"
	cfg.Apps = append(cfg.Apps, dup)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复 Name 应报错")
	}
}

func TestValidatePrecacheEntries(t *testing.T) {
	cfg := validConfig()
	cfg.Apps[0].Precache = []string{"/", "https://cdn.example.com/app.js"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("跨源 Precache 条目应报错")
	}
}

func TestBuildAppRuntime(t *testing.T) {
	disabled := false
	app := validConfig().Apps[0]
	app.Precache = nil
	app.MediaIgnoreQuery = &disabled

	runtime := BuildAppRuntime(app)
	if len(runtime.Manifest) != len(DefaultPrecache) {
		t.Fatalf("空清单应回退默认值: %v", runtime.Manifest)
	}
	media := runtime.Profiles[classify.ClassStaticMedia]
	if media.IgnoreQuery {
		t.Fatalf("MediaIgnoreQuery=false 应覆盖默认策略")
	}
	if got := runtime.Rules.Classify("/api/list"); got != classify.ClassDynamic {
		t.Fatalf("规则应使用默认 API 前缀, got %s", got)
	}
}

func TestVersionsSummary(t *testing.T) {
	cfg := validConfig()
	got := Versions(cfg.Apps)
	if len(got) != 1 || got[0] != "rahmen:rahmen-cache-v3" {
		t.Fatalf("unexpected versions: %v", got)
	}
	if Versions(nil) != nil {
		t.Fatalf("空列表应返回 nil")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			StoragePath:     "./data",
			StoreDriver:     cache.DriverFS,
			UpstreamTimeout: Duration(time.Second),
		},
		Apps: []AppConfig{
			{
				Name:         "rahmen",
				Domain:       "rahmen.local",
				Origin:       "http://127.0.0.1:8080",
				CacheVersion: "rahmen-cache-v3",
				Precache:     []string{"/"},
				APIPrefix:    classify.DefaultAPIPrefix,
				MediaPrefix:  classify.DefaultMediaPrefix,
			},
		},
	}
}
