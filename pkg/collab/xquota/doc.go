// Package xquota 基于 Redis 的按键生成配额。
//
// Gate 使用 redis_rate 的 GCRA 算法在多个实例间共享配额。
// 配额耗尽时 Acquire 返回 RateLimited 故障，ResetAt 为下一次可用时间，
// 交给 xfault.Guard 后即形成限流窗口，窗口解除前重试编排器不会再尝试。
//
// 用法：
//
//	gate, err := xquota.New(rdb, xquota.Limit{Rate: 10, Period: time.Minute})
//	if err := gate.Acquire(ctx, userID); err != nil {
//	    guard.RecordFailure(ctx, err)
//	}
package xquota
