package classify

// Class 表示请求所属的类别。
type Class string

const (
	ClassDynamic     Class = "dynamic"
	ClassStaticMedia Class = "static-media"
	ClassPassthrough Class = "passthrough"
)

// StrategyKind 描述类别使用的读写策略。
type StrategyKind string

const (
	// StrategyNetworkFirst 先回源，失败时回退到缓存。
	StrategyNetworkFirst StrategyKind = "network-first"
	// StrategyCacheFirst 先查缓存，未命中再回源并写缓存。
	StrategyCacheFirst StrategyKind = "cache-first"
	// StrategyNetworkOnly 直接回源，不读也不写缓存。
	StrategyNetworkOnly StrategyKind = "network-only"
)

// Profile 描述一个类别的缓存策略参数。
type Profile struct {
	Class       Class
	Description string
	Strategy    StrategyKind
	// IgnoreQuery 控制缓存查找时是否忽略 query string。
	IgnoreQuery bool
	// Store 表示成功回源后是否写入缓存。
	Store bool
}

// Classes 返回全部类别，按判定顺序排列。
func Classes() []Class {
	return []Class{ClassDynamic, ClassStaticMedia, ClassPassthrough}
}
