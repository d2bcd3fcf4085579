// Package storageopt 提供 Redis 协作方（xstore、xquota）共享的工具函数。
//
// 本包是 internal 包，仅供 pkg/collab 下的子包使用。
//
// 主要功能：
//   - 健康检查超时 context
//   - Redis 原生错误到 xfault.Error 的翻译
package storageopt
