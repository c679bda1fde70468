// Package version 描述 adventures 的构建版本，启动日志与 --version 共用。
package version

import (
	"fmt"
	"runtime/debug"
)

// Name 是 CLI 与启动日志中使用的程序名。
const Name = "adventures"

// Version/Commit 可通过 -ldflags "-X" 注入。
var (
	Version = "0.1.0"
	Commit  = ""
)

var readBuildInfo = debug.ReadBuildInfo

// Revision 返回构建对应的提交：优先 ldflags 注入值，其次 go build 嵌入的 vcs.revision，均缺失时为 dev。
func Revision() string {
	if Commit != "" {
		return Commit
	}
	info, ok := readBuildInfo()
	if !ok {
		return "dev"
	}
	var rev string
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return "dev"
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}

// Full 返回 "<name> <version> (<revision>)"。
func Full() string {
	return fmt.Sprintf("%s %s (%s)", Name, Version, Revision())
}
