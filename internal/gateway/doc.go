// Package gateway 把 Fiber 请求接入 offline 包：每个站点一个 offline.Registration，
// 请求按 Sec-Fetch-* 头还原为 offline.Request 后交给当前 active Worker，
// 不被拦截的请求直接透传到站点 Origin。
package gateway
