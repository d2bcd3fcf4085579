// Package xretry 提供与 xfault.Guard 配对的重试编排器。
//
// # 设计理念
//
// 重试是否继续由故障状态决定，而不是由编排器自己计数：
//   - Policy：不可变的退避参数（次数、基础延迟、乘数、上限、抖动）
//   - Orchestrator：执行操作，失败时记录到 Guard，按 Guard.CanRetryWithin 决定是否退避重试
//   - Session：供界面读取的进度快照（第几次、倒计时）
//
// 底层使用 [avast/retry-go/v5] 实现重试循环，时钟通过 clockwork 注入，测试可用假时钟推进。
//
// # 退避
//
//	delay = min(BaseDelay * Multiplier^attempt, MaxDelay)
//
// 开启抖动时在 ±10% 内扰动，下限 100ms，上限始终为 MaxDelay。
//
// # 使用方式
//
// 方式一：显式 Run
//
//	guard := xfault.NewGuard()
//	orch, _ := xretry.New(guard, xretry.DefaultPolicy(), xretry.WithName("llm"))
//	err := orch.Run(ctx, func(ctx context.Context) error {
//	    return callModel(ctx)
//	})
//
// 方式二：自动重试，Guard 记录到故障后自行安排下一次尝试
//
//	stop := orch.EnableAutoRetry(ctx, save)
//	defer stop()
//	if err := save(ctx); err != nil {
//	    guard.RecordFailure(ctx, err)
//	}
//
// # 错误分类
//
//   - Permanent(err)：标记为永久性错误（不应重试）
//   - Unrecoverable(err)：retry-go 风格的不可恢复错误
//   - *xfault.Error：按 Kind 与 Permanent 字段判断
//
// [avast/retry-go/v5]: https://github.com/avast/retry-go
package xretry
