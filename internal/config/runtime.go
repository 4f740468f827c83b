package config

import "github.com/any-hub/pwa-cache/internal/classify"

// AppRuntime 将 App 配置与类别策略合并，方便运行时快速取用。
type AppRuntime struct {
	Config   AppConfig
	Rules    classify.Rules
	Profiles map[classify.Class]classify.Profile
	Manifest []string
}

// BuildAppRuntime 根据 App 配置计算分类规则、最终策略与预缓存清单。
func BuildAppRuntime(cfg AppConfig) AppRuntime {
	manifest := cfg.Precache
	if len(manifest) == 0 {
		manifest = DefaultPrecache
	}
	return AppRuntime{
		Config:   cfg,
		Rules:    cfg.Rules(),
		Profiles: classify.ResolveProfiles(cfg.ProfileOverrides()),
		Manifest: append([]string(nil), manifest...),
	}
}
