// Package offline 实现离线资源缓存的核心策略：请求分类、三种缓存执行器
// （network-first / 图片 cache-first + 后台再验证 / 通用 cache-first + 离线兜底），
// 以及缓存代际（generation）的安装、激活与清理。
//
// 包本身不依赖任何 HTTP 框架：调用方把请求转换为 Request，通过 Fetcher 注入
// 真实网络，通过 Storage 注入缓存实现（MemoryStorage 或 LevelDBStorage）。
// gateway 包负责把 Fiber 请求接入这里。
package offline
