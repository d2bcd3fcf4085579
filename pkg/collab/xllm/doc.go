// Package xllm 语言模型文本生成客户端。
//
// 基于 go-openai 的 Chat Completions 接口，负责：
//   - 把提供方错误翻译为 *xfault.Error（分类依赖状态码与错误码，而非消息子串）
//   - 用 xbreaker 熔断持续失败的提供方
//   - 可选地在每次调用前检查按用户的生成配额（xquota）
//   - 用 text/template 渲染营销漏斗步骤的提示词
//
// 错误翻译：
//
//	429             → RateLimited，ResetAt = now + cooldown
//	429 配额/账单    → RemoteAPI/quota_exceeded，永久
//	400/404/422     → Validation
//	401/403         → RemoteAPI/auth_failed，永久
//	408/504         → Timeout
//	其他 5xx         → RemoteAPI
//	传输层错误       → Network
//	context 超时     → Timeout
//
// 客户端本身不重试，重试交给 xretry.Orchestrator。
package xllm
