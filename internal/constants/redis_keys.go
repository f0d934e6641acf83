package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: recruit:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "recruit"

	// EntityRun 流水线运行快照
	EntityRun = "run"
	// EntityRunSet 运行 ID 集合
	EntityRunSet = "runs"
	// EntityEmbed 查询向量缓存
	EntityEmbed = "embed"

	// KeyRunSnapshot 运行快照 (STRING, JSON)
	// 格式: recruit:run:{runID}
	KeyRunSnapshot = AppPrefix + ":" + EntityRun + ":%s"

	// KeyRunSet 已缓存的运行 ID (SET)，会话重置时据此清理快照
	// 格式: recruit:runs
	KeyRunSet = AppPrefix + ":" + EntityRunSet

	// KeyEmbeddingCache 文本向量缓存 (STRING, JSON)
	// 格式: recruit:embed:{model}:{sha256}
	KeyEmbeddingCache = AppPrefix + ":" + EntityEmbed + ":%s:%s"
)
