// Package xrun 基于 errgroup 的任务组，统一管理长时间运行的任务与退出原因。
//
// 任一任务返回错误、调用 Cancel 或收到信号时，其余任务的 ctx 被取消。
// Wait 返回第一个有意义的退出原因：任务错误、Cancel 的 cause 或 *SignalError；
// 普通的 context 取消视为正常退出。
//
//	err := xrun.Run(ctx, []xrun.Option{xrun.WithLogger(logger)},
//	    xrun.Task{Name: "netwatch", Run: source.Run},
//	    xrun.Task{Name: "config", Run: watcher.Run},
//	)
//	if errors.Is(err, xrun.ErrSignal) {
//	    // 正常的信号退出
//	}
package xrun
