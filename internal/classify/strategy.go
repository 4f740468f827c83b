package classify

// ProfileOptions 描述来自 app 配置的覆盖项。
type ProfileOptions struct {
	// MediaIgnoreQuery 为 nil 时沿用默认值。
	MediaIgnoreQuery *bool
}

// ResolveProfiles 将默认 Profile 与 app 级覆盖合并，返回每个类别最终生效的策略。
func ResolveProfiles(opts ProfileOptions) map[Class]Profile {
	resolved := make(map[Class]Profile, len(Classes()))
	for _, profile := range List() {
		if profile.Class == ClassStaticMedia && opts.MediaIgnoreQuery != nil {
			profile.IgnoreQuery = *opts.MediaIgnoreQuery
		}
		resolved[profile.Class] = normalizeProfile(profile)
	}
	return resolved
}

func normalizeProfile(profile Profile) Profile {
	if profile.Strategy == StrategyNetworkOnly {
		profile.Store = false
		profile.IgnoreQuery = false
	}
	return profile
}
