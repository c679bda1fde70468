package offline

import "errors"

var (
	// ErrNetwork 表示请求未能到达网络（连接失败、超时等）。
	ErrNetwork = errors.New("network failure")
	// ErrUpstreamRejected 表示网络可达但上游响应不可用（例如超出大小上限）。
	// 它不属于网络失败，执行器不会为它回退到缓存或离线页。
	ErrUpstreamRejected = errors.New("upstream response rejected")
	// ErrNotCached 表示缓存中没有对应条目；仅在无兜底可用时才会向外传播。
	ErrNotCached = errors.New("not cached")
	// ErrNonOK 表示上游返回了非 2xx 状态，这类响应永远不会写入缓存。
	ErrNonOK = errors.New("non-ok response")
	// ErrInstall 表示预缓存清单中至少一个 URL 失败，安装整体失败。
	ErrInstall = errors.New("install failed")
	// ErrBypass 表示请求不被拦截，应直接透传到网络。
	ErrBypass = errors.New("request bypasses offline cache")
	// ErrSuperseded 表示 Worker 安装完成时已有更晚发起的版本登记，该 Worker 被直接淘汰。
	ErrSuperseded = errors.New("worker superseded by a newer update")
	// ErrMethodNotCacheable 表示尝试写入非 GET 请求。
	ErrMethodNotCacheable = errors.New("only GET requests can be cached")
)
