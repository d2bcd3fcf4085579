// Package xnetwatch 提供网络信号源：以只读快照暴露当前连通性，
// 并在平台事件或主动探测到状态变化时通知订阅者。
//
// 平台层（或测试）通过 SetOnline / SetQuality 输入事件；
// 没有平台事件时可以用 Run 配合 Prober 周期性探测。
//
//	src := xnetwatch.New(xnetwatch.WithProber(xnetwatch.DialProber{Addr: "api.example.com:443"}))
//	go src.Run(ctx)
//	guard := xfault.NewGuard(xfault.WithNetwork(src))
//
// 状态默认为"在线、质量未知"，只有明确收到离线信号才视为离线。
package xnetwatch
