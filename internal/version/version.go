// Package version 保存构建时注入的版本信息。
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version/Commit 可在构建时通过 -ldflags 注入。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回 -version 输出：pwa-cache <version> (<commit>) <go version> <os>/<arch>。
func Full() string {
	return fmt.Sprintf("pwa-cache %s (%s) %s %s/%s", Version, Revision(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Revision 优先使用注入的 Commit；未注入时读取 go build 记录的 vcs.revision 前 7 位。
func Revision() string {
	if Commit != "dev" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			return setting.Value[:7]
		}
	}
	return Commit
}
