// Package classify 把拦截到的请求路径映射到唯一的请求类别（dynamic / static-media /
// passthrough），并为每个类别登记默认的缓存策略 Profile。
//
// 约定：
//   1. 分类只看 URL path，忽略 origin 与 query；判定顺序固定为 dynamic → static-media → passthrough；
//   2. 每个类别在 init() 中通过 Register 登记 Profile，app 级配置只能覆盖 Profile 的参数；
//   3. 同一个 worker 生命周期内 Rules 不可变，保证同一 URL 始终落在同一类别。
package classify
