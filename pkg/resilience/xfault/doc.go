// Package xfault 提供故障分类与故障状态持有能力。
//
// # 设计理念
//
// 每个调用上下文（一个 UI 功能、一个调用点）显式构造一个 [Guard]，
// Guard 独占以下状态：
//   - 当前故障记录 [Record]（分类、消息、重试次数、原因、时间）
//   - 限流窗口 [Window]（到期自动解除，无需轮询）
//
// Guard 不在不同上下文之间共享，通过 [NewGuard] 创建、[Guard.Close] 释放。
//
// # 分类
//
// 六种故障类型：Network、RateLimited、Validation、Timeout、RemoteAPI、Unknown。
// 分类优先依赖协作方返回的结构化错误 [Error]（Kind + Code），
// 其次是超时与网络错误的类型判断，最后回退为 Unknown。
// 基于消息子串的 [PhraseClassifier] 仅在显式配置时启用。
//
// # 传播策略
//
//   - Validation：本地、自愈（默认 5s 自动清除），永不重试
//   - RateLimited：受限流窗口约束，窗口有效期内拒绝重试
//   - 其余类型：按策略重试，耗尽后作为终态保留，需显式清除
//
// # 超时
//
// [Guard.RunWithTimeout] 以 select 竞争操作结果与计时器，
// 失败的一方总会被释放：计时器被 Stop，或操作的派生 context 被取消。
// 超时后到达的结果被丢弃。
//
// # 时间
//
// 所有计时器均为 clockwork.Timer 句柄，测试时可通过 [WithClock] 注入 fake clock。
package xfault
