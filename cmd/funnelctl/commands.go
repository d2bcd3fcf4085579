package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xfunnel/internal/settings"
	"github.com/omeyang/xfunnel/pkg/collab/xllm"
	"github.com/omeyang/xfunnel/pkg/collab/xquota"
	"github.com/omeyang/xfunnel/pkg/collab/xstore"
	"github.com/omeyang/xfunnel/pkg/config/xconf"
	"github.com/omeyang/xfunnel/pkg/lifecycle/xrun"
	"github.com/omeyang/xfunnel/pkg/network/xnetwatch"
	"github.com/omeyang/xfunnel/pkg/observability/xlog"
	"github.com/omeyang/xfunnel/pkg/resilience/xbreaker"
)

// withRuntime 为命令加载 runtime，执行后释放
func withRuntime(action func(ctx context.Context, cmd *cli.Command, rt *runtime) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		rt, err := loadRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()
		return action(ctx, cmd, rt)
	}
}

// ----------------------------------------------------------------------------
// delays
// ----------------------------------------------------------------------------

func createDelaysCommand() *cli.Command {
	return &cli.Command{
		Name:  "delays",
		Usage: "打印调用点的退避计划",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "site", Aliases: []string{"s"}, Usage: "调用点名称", Value: "llm"},
		},
		Action: withRuntime(func(_ context.Context, cmd *cli.Command, rt *runtime) error {
			return cmdDelays(rt, cmd.String("site"))
		}),
	}
}

func cmdDelays(rt *runtime, site string) error {
	current := rt.current()
	cfg, err := current.Site(site)
	if err != nil {
		return usagef("%v (configured: %s)", err, strings.Join(current.SiteNames(), ", "))
	}
	p := cfg.Policy
	fmt.Fprintf(rt.stdout, "site %s: max_attempts=%d base=%s multiplier=%g max=%s jitter=%t timeout=%s\n",
		site, p.MaxAttempts, p.BaseDelay, p.Multiplier, p.MaxDelay, p.Jitter, cfg.Timeout)
	var total time.Duration
	for i := 0; i < p.MaxAttempts; i++ {
		d := p.Delay(i)
		total += d
		fmt.Fprintf(rt.stdout, "retry %d: wait %s\n", i+1, d)
	}
	fmt.Fprintf(rt.stdout, "total wait: %s\n", total)
	return nil
}

// ----------------------------------------------------------------------------
// generate
// ----------------------------------------------------------------------------

func createGenerateCommand() *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "生成漏斗文案（经故障守卫与重试编排）",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "site", Usage: "调用点名称", Value: "llm"},
			&cli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "直接使用的提示词"},
			&cli.StringFlag{Name: "product", Usage: "产品描述（未提供 --prompt 时使用）"},
			&cli.StringFlag{Name: "step", Usage: "漏斗步骤", Value: xllm.StepLanding},
			&cli.StringFlag{Name: "audience", Usage: "目标受众"},
			&cli.StringFlag{Name: "tone", Usage: "语气"},
			&cli.StringFlag{Name: "language", Usage: "输出语言"},
			&cli.StringFlag{Name: "user", Usage: "配额键，提供时检查生成配额"},
		},
		Action: withRuntime(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
			brief := xllm.Brief{
				Product:  cmd.String("product"),
				Step:     cmd.String("step"),
				Audience: cmd.String("audience"),
				Tone:     cmd.String("tone"),
				Language: cmd.String("language"),
				User:     cmd.String("user"),
			}
			return cmdGenerate(ctx, rt, cmd.String("site"), cmd.String("prompt"), brief)
		}),
	}
}

func (r *runtime) llmClient(withQuota bool) (*xllm.Client, error) {
	current := r.current()
	s := current.LLM
	breaker := xbreaker.New("llm",
		xbreaker.WithTripPolicy(s.TripPolicy()),
		xbreaker.WithTimeout(s.BreakerOpenAfter),
		xbreaker.WithLogger(r.logger),
	)
	opts := []xllm.Option{
		xllm.WithModel(s.Model),
		xllm.WithCooldown(s.Cooldown),
		xllm.WithLogger(r.logger),
		xllm.WithBreaker(breaker),
	}
	if withQuota && current.Quota.Rate > 0 {
		gate, err := xquota.New(r.redis(), current.Quota,
			xquota.WithPrefix(current.Redis.Prefix+":quota"),
			xquota.WithLogger(r.logger))
		if err != nil {
			return nil, err
		}
		opts = append(opts, xllm.WithQuota(gate))
	}
	return xllm.NewOpenAI(s.APIKey(), s.BaseURL, nil, opts...)
}

func cmdGenerate(ctx context.Context, rt *runtime, site, prompt string, brief xllm.Brief) error {
	if prompt == "" && brief.Product == "" {
		return usagef("either --prompt or --product is required")
	}
	client, err := rt.llmClient(brief.User != "")
	if err != nil {
		return err
	}

	var resp xllm.Response
	err = rt.runSite(ctx, site, func(ctx context.Context) error {
		var err error
		if prompt != "" {
			resp, err = client.Generate(ctx, xllm.Request{Prompt: prompt, User: brief.User})
		} else {
			resp, err = client.GenerateFunnelCopy(ctx, brief)
		}
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(rt.stdout, resp.Text)
	return nil
}

// ----------------------------------------------------------------------------
// store
// ----------------------------------------------------------------------------

func createStoreCommand() *cli.Command {
	tableFlag := &cli.StringFlag{Name: "table", Aliases: []string{"t"}, Usage: "表名", Required: true}
	idFlag := &cli.StringFlag{Name: "id", Usage: "行 id"}
	return &cli.Command{
		Name:  "store",
		Usage: "存储操作（经故障守卫与重试编排）",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "site", Usage: "调用点名称", Value: "store"},
		},
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "读取一行",
				Flags: []cli.Flag{tableFlag, idFlag},
				Action: withRuntime(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
					return cmdStoreGet(ctx, rt, cmd.String("site"), cmd.String("table"), cmd.String("id"))
				}),
			},
			{
				Name:  "put",
				Usage: "插入（无 --id）或合并更新（有 --id）一行",
				Flags: []cli.Flag{tableFlag, idFlag,
					&cli.StringSliceFlag{Name: "field", Aliases: []string{"f"}, Usage: "字段 key=value，可重复"},
				},
				Action: withRuntime(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
					row, err := parseFields(cmd.StringSlice("field"))
					if err != nil {
						return err
					}
					return cmdStorePut(ctx, rt, cmd.String("site"), cmd.String("table"), cmd.String("id"), row)
				}),
			},
			{
				Name:  "del",
				Usage: "删除一行",
				Flags: []cli.Flag{tableFlag, idFlag},
				Action: withRuntime(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
					return cmdStoreDel(ctx, rt, cmd.String("site"), cmd.String("table"), cmd.String("id"))
				}),
			},
			{
				Name:  "list",
				Usage: "列出表中全部行",
				Flags: []cli.Flag{tableFlag},
				Action: withRuntime(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
					return cmdStoreList(ctx, rt, cmd.String("site"), cmd.String("table"))
				}),
			},
		},
	}
}

// parseFields 解析 key=value 列表，value 能按 JSON 解析时使用解析结果
func parseFields(fields []string) (xstore.Row, error) {
	row := make(xstore.Row, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, usagef("invalid field %q, want key=value", f)
		}
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			row[k] = parsed
		} else {
			row[k] = v
		}
	}
	return row, nil
}

func (r *runtime) store() (*xstore.Store, error) {
	return xstore.New(r.redis(), xstore.WithPrefix(r.current().Redis.Prefix), xstore.WithLogger(r.logger))
}

func requireID(id string) error {
	if id == "" {
		return usagef("--id is required")
	}
	return nil
}

func (r *runtime) printJSON(v any) error {
	enc := json.NewEncoder(r.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdStoreGet(ctx context.Context, rt *runtime, site, table, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	st, err := rt.store()
	if err != nil {
		return err
	}
	var row xstore.Row
	err = rt.runSite(ctx, site, func(ctx context.Context) error {
		var err error
		row, err = st.Get(ctx, table, id)
		return err
	})
	if err != nil {
		return err
	}
	return rt.printJSON(row)
}

func cmdStorePut(ctx context.Context, rt *runtime, site, table, id string, row xstore.Row) error {
	if len(row) == 0 {
		return usagef("at least one --field is required")
	}
	st, err := rt.store()
	if err != nil {
		return err
	}
	if id == "" {
		var newID string
		err = rt.runSite(ctx, site, func(ctx context.Context) error {
			var err error
			newID, err = st.Insert(ctx, table, row)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(rt.stdout, newID)
		return nil
	}

	var merged xstore.Row
	err = rt.runSite(ctx, site, func(ctx context.Context) error {
		var err error
		merged, err = st.Update(ctx, table, id, row)
		return err
	})
	if err != nil {
		return err
	}
	return rt.printJSON(merged)
}

func cmdStoreDel(ctx context.Context, rt *runtime, site, table, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	st, err := rt.store()
	if err != nil {
		return err
	}
	return rt.runSite(ctx, site, func(ctx context.Context) error {
		return st.Delete(ctx, table, id)
	})
}

func cmdStoreList(ctx context.Context, rt *runtime, site, table string) error {
	st, err := rt.store()
	if err != nil {
		return err
	}
	var rows []xstore.Row
	err = rt.runSite(ctx, site, func(ctx context.Context) error {
		var err error
		rows, err = st.List(ctx, table)
		return err
	})
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []xstore.Row{}
	}
	return rt.printJSON(rows)
}

// ----------------------------------------------------------------------------
// watch
// ----------------------------------------------------------------------------

func createWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "持续探测网络并热重载配置，直到收到信号",
		Action: withRuntime(func(ctx context.Context, _ *cli.Command, rt *runtime) error {
			return cmdWatch(ctx, rt)
		}),
	}
}

// cmdWatch 运行网络探测与配置监视，直到信号或 ctx 结束
func cmdWatch(ctx context.Context, rt *runtime) error {
	source := rt.network(ctx)
	printStatus := func(st xnetwatch.Status) {
		quality := string(st.Quality)
		if quality == "" {
			quality = "unknown"
		}
		fmt.Fprintf(rt.stdout, "%s network online=%t quality=%s\n",
			st.LastChangeAt.Format(time.RFC3339), st.Online, quality)
	}
	unsubscribe := source.Subscribe(printStatus)
	defer unsubscribe()
	printStatus(source.Status())

	tasks := []xrun.Task{{Name: "netwatch", Run: source.Run}}
	if rt.cfg != nil {
		w, err := xconf.NewWatcher(rt.cfg, func(cfg *xconf.Config, err error) {
			rt.reload(cfg, err)
		}, xconf.WithWatchLogger(rt.logger))
		if err != nil {
			return err
		}
		tasks = append(tasks, xrun.Task{Name: "config", Run: w.Run})
	}

	err := xrun.Run(ctx, []xrun.Option{xrun.WithName("funnelctl"), xrun.WithLogger(rt.logger)}, tasks...)
	if errors.Is(err, xrun.ErrSignal) {
		return nil
	}
	return err
}

// reload 处理配置文件变更：校验通过的配置替换当前配置，失败时保留旧配置
func (r *runtime) reload(cfg *xconf.Config, err error) {
	ctx := context.Background()
	if err != nil {
		r.logger.Warn(ctx, "config reload failed, keeping previous settings", xlog.Err(err))
		return
	}
	s, err := settings.FromConfig(cfg)
	if err != nil {
		r.logger.Warn(ctx, "reloaded config rejected", xlog.Err(err))
		return
	}
	r.apply(s)
	fmt.Fprintf(r.stdout, "config reloaded: sites=%s\n", strings.Join(s.SiteNames(), ","))
}

func levelOrKeep(s string, l xlog.LoggerWithLevel) xlog.Level {
	lvl, err := xlog.ParseLevel(s)
	if err != nil {
		return l.GetLevel()
	}
	return lvl
}
