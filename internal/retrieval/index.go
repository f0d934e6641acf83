package retrieval

import (
	"context"
	"fmt"
	"sort"

	"recruit-agent-go/internal/types"
)

// ChunkRecord 写入向量索引的一条记录
type ChunkRecord struct {
	Key    string
	Chunk  types.Chunk
	Vector []float64
}

// ChunkHit 最近邻查询命中的分块，Distance 为余弦距离
type ChunkHit struct {
	Chunk    types.Chunk
	Distance float64
}

// Similarity 余弦距离转换为相似度
func (h ChunkHit) Similarity() float64 {
	return 1 - h.Distance
}

// VectorIndex 分块级别的向量索引
// 实现需要保证：同一 Key 重复 Upsert 为覆盖；Query 返回的条数不超过 k。
type VectorIndex interface {
	Upsert(ctx context.Context, records []ChunkRecord) error
	Query(ctx context.Context, vector []float64, k int) ([]ChunkHit, error)
	ChunksByResume(ctx context.Context, resumeID string) ([]types.Chunk, error)
	DeleteResume(ctx context.Context, resumeID string) error
	Reset(ctx context.Context) error
}

// ChunkKey 分块主键 {resumeId}_{ordinal}
func ChunkKey(resumeID string, ordinal int) string {
	return fmt.Sprintf("%s_%d", resumeID, ordinal)
}

// ChunkMetadata 写入索引的分块元数据
func ChunkMetadata(c types.Chunk) map[string]interface{} {
	return map[string]interface{}{
		"resume_id": c.ResumeID,
		"filename":  c.Filename,
		"ordinal":   c.Ordinal,
	}
}

// sortHits 按距离升序，距离相同按主键排序以保证结果稳定
func sortHits(hits []ChunkHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return ChunkKey(hits[i].Chunk.ResumeID, hits[i].Chunk.Ordinal) < ChunkKey(hits[j].Chunk.ResumeID, hits[j].Chunk.Ordinal)
	})
}

// sortByOrdinal 按 ordinal 升序排列分块
func sortByOrdinal(chunks []types.Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Ordinal < chunks[j].Ordinal
	})
}
