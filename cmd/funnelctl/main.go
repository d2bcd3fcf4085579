// funnelctl 是 xfunnel 弹性层的命令行工具。
//
// 用法:
//
//	funnelctl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config      配置文件路径（YAML/JSON，缺省使用内置默认值）
//	    --log-level   日志级别，覆盖配置文件
//	    --log-format  日志格式（text/json），覆盖配置文件
//
// 命令:
//
//	delays --site <s>                 打印调用点的退避计划
//	generate --site llm ...           经故障守卫与重试编排执行一次文案生成
//	store get|put|del|list ...        经同一套弹性核心执行存储操作
//	watch                             持续探测网络并热重载配置，直到收到信号
//
// 退出码:
//
//	0: 成功
//	1: 操作失败（重试耗尽、不可重试故障等）
//	2: 参数错误
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
)

// 版本信息（可通过 -ldflags 注入）
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run(context.Background(), os.Args, os.Stdout, os.Stderr))
}

// usageError 参数错误，退出码 2
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// createApp 创建 CLI 应用
func createApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "funnelctl",
		Usage:     "xfunnel 弹性层命令行工具",
		Version:   fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "日志级别 (debug/info/warn/error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "日志格式 (text/json)",
			},
		},
		Commands: []*cli.Command{
			createDelaysCommand(),
			createGenerateCommand(),
			createStoreCommand(),
			createWatchCommand(),
		},
		// 由 run 统一映射退出码，禁止 urfave/cli 直接 os.Exit
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(stderr, err)
			}
		},
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := createApp(stdout, stderr)
	if err := app.Run(ctx, args); err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(stderr, "参数错误: %v\n", usageErr)
			return 2
		}
		if isCLIUsageError(err) {
			fmt.Fprintf(stderr, "参数错误: %v\n", err)
			return 2
		}
		fmt.Fprintf(stderr, "错误: %v\n", err)
		return 1
	}
	return 0
}

// cliUsagePhrases urfave/cli 参数解析错误的特征文本
var cliUsagePhrases = []string{
	"flag provided but not defined",
	"required flag",
	"invalid value",
	"no help topic",
	"command not found",
}

func isCLIUsageError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range cliUsagePhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
