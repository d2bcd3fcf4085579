// Package xbreaker 为远端协作方（语言模型、存储）提供熔断保护。
//
// # 设计理念
//
// 熔断器打开时立即失败，返回的 BreakerError 同时满足两个约定：
//   - Retryable() 返回 false，xretry 不会对其退避重试
//   - FaultKind() 返回 xfault.KindRemoteAPI，错误码为 circuit_open，
//     xfault.Guard 据此展示"服务暂不可用"而非未知错误
//
// 校验类故障与调用方取消不计入失败统计，避免用户输入错误触发熔断。
//
// # 熔断器状态
//
//   - StateClosed（关闭）：正常状态，请求正常通过
//   - StateOpen（打开）：熔断状态，请求直接失败
//   - StateHalfOpen（半开）：探测状态，允许部分请求通过
//
// # 熔断策略
//
//   - ConsecutiveFailuresPolicy：连续失败 N 次后熔断（默认 5 次）
//   - FailureRatioPolicy：失败率超过阈值后熔断
//
// 底层使用 [sony/gobreaker/v2]。
//
// [sony/gobreaker/v2]: https://github.com/sony/gobreaker
package xbreaker
