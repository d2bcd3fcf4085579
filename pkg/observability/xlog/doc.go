// Package xlog 基于 log/slog 的结构化日志库。
//
// # 核心功能
//
//   - Builder 模式配置（输出目标、级别、格式、文件轮转）
//   - 动态级别调整（运行时热更新）
//   - 强制 context 传递的 Logger 接口
//   - 重试/故障领域的便捷属性（Kind、Attempt、Site 等）
//
// # 创建 Logger
//
// Builder 采用 first-error-wins：遇到第一个配置错误后，Build 直接返回该错误。
//
//	logger, cleanup, err := xlog.New().
//	    SetLevelString("debug").
//	    SetFormat("json").
//	    SetRotation("/var/log/xfunnel/app.log", xlog.WithMaxSizeMB(50)).
//	    Build()
//	if err != nil {
//	    return err
//	}
//	defer cleanup()
//
// # 库默认值
//
// 库组件（xfault、xretry、xnetwatch 等）未注入 Logger 时使用 [Discard]，
// 不向 stderr 写任何内容。命令行程序通过 Builder 构建真实 Logger 后注入。
//
// # 文件轮转
//
// [Builder.SetRotation] 底层使用 gopkg.in/natefinch/lumberjack.v2，
// cleanup 函数负责关闭文件句柄。
package xlog
