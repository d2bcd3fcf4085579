// Package xconf 基于 koanf 的配置加载与热重载。
//
// xconf 只负责加载、反序列化和文件监视；字段校验与默认值由使用方
// （internal/settings）负责。
//
// # 支持的格式
//
//   - YAML：.yaml, .yml
//   - JSON：.json
//
// # 并发安全
//
// Reload 解析成功后才替换内部 koanf 实例，解析失败时保留旧配置。
// Client 返回的指针在 Reload 后仍然有效，但指向旧快照，
// 需要时重新调用 Client。
//
// Unmarshal 使用 koanf 默认的 mapstructure 配置：允许弱类型转换，
// 时长可写成 "1s"、"250ms" 等字符串。
//
// # 配置监视
//
// Watcher 监视配置文件所在目录（兼容编辑器的原子写入），
// 在防抖窗口内的多次变更只触发一次 Reload 与回调。
package xconf
