package classify

import (
	"fmt"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

type registry struct {
	mu       sync.RWMutex
	profiles map[Class]Profile
}

func newRegistry() *registry {
	return &registry{profiles: make(map[Class]Profile)}
}

// 三个类别的默认策略：dynamic 要尽量新鲜，media 依赖 URL 不变性，其余直接透传。
func init() {
	MustRegister(Profile{
		Class:       ClassDynamic,
		Description: "Root document and API calls: fresh when online, last seen copy when offline",
		Strategy:    StrategyNetworkFirst,
		Store:       true,
	})
	MustRegister(Profile{
		Class:       ClassStaticMedia,
		Description: "Images and video under the media prefix: immutable by path",
		Strategy:    StrategyCacheFirst,
		IgnoreQuery: true,
		Store:       true,
	})
	MustRegister(Profile{
		Class:       ClassPassthrough,
		Description: "Everything outside the offline surface",
		Strategy:    StrategyNetworkOnly,
	})
}

// Register 将类别 Profile 加入全局注册表，重复类别会返回错误。
func Register(profile Profile) error {
	return globalRegistry.register(profile)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(profile Profile) {
	if err := Register(profile); err != nil {
		panic(err)
	}
}

// Lookup 返回类别的默认 Profile。
func Lookup(class Class) (Profile, bool) {
	return globalRegistry.lookup(class)
}

// List 按判定顺序返回已注册的 Profile。
func List() []Profile {
	return globalRegistry.list()
}

func normalizeClass(class Class) Class {
	return Class(strings.ToLower(strings.TrimSpace(string(class))))
}

func (r *registry) register(profile Profile) error {
	class := normalizeClass(profile.Class)
	if class == "" {
		return fmt.Errorf("profile class is required")
	}
	switch profile.Strategy {
	case StrategyNetworkFirst, StrategyCacheFirst, StrategyNetworkOnly:
	default:
		return fmt.Errorf("class %s: unsupported strategy %q", class, profile.Strategy)
	}
	profile.Class = class

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[class]; exists {
		return fmt.Errorf("class %s already registered", class)
	}
	r.profiles[class] = profile
	return nil
}

func (r *registry) lookup(class Class) (Profile, bool) {
	normalized := normalizeClass(class)
	if normalized == "" {
		return Profile{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[normalized]
	return profile, ok
}

func (r *registry) list() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.profiles) == 0 {
		return nil
	}

	result := make([]Profile, 0, len(r.profiles))
	for _, class := range Classes() {
		if profile, ok := r.profiles[class]; ok {
			result = append(result, profile)
		}
	}
	return result
}
