package constants

import "time"

const (
	// ServiceName 服务名，用于日志与 trace
	ServiceName = "recruit-agent-go"

	// DefaultRunSnapshotTTL 运行快照在 Redis 中的默认保留时间
	DefaultRunSnapshotTTL = 24 * time.Hour
	// DefaultEmbeddingCacheTTL 向量缓存默认保留时间
	DefaultEmbeddingCacheTTL = 24 * time.Hour

	// UnknownFilename 注册表中查不到文件名时使用
	UnknownFilename = "unknown"

	// OutboxStatusPending outbox 消息待发送
	OutboxStatusPending = "PENDING"
	// OutboxStatusSent outbox 消息已发送
	OutboxStatusSent = "SENT"
	// OutboxStatusFailed outbox 消息发送失败
	OutboxStatusFailed = "FAILED"
)
