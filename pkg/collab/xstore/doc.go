// Package xstore 基于 Redis 的 JSON 行存储。
//
// 每行是一个 JSON 文档，键为 <prefix>:<table>:<id>，id 为 UUID；
// 每张表维护一个索引集合 <prefix>:<table>:_ids，供 List 使用。
//
// 所有 Redis 错误都被翻译为 *xfault.Error：
//   - 行不存在 → RemoteAPI/not_found（永久，不重试）
//   - 超时 → Timeout
//   - 连接失败 → Network
//   - LOADING/BUSY/TRYAGAIN → RemoteAPI（可重试）
//   - 行内容无法解析、表名或 id 非法 → Validation
//
// 因此存储调用可以直接交给 xretry.Orchestrator 执行：
//
//	row, err := xretry.RunWithResult(ctx, orch, func(ctx context.Context) (xstore.Row, error) {
//	    return store.Get(ctx, "funnels", id)
//	})
package xstore
