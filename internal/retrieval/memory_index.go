package retrieval

import (
	"context"
	"errors"
	"math"
	"sync"

	"recruit-agent-go/internal/types"
)

// MemoryIndex 进程内向量索引，暴力计算余弦距离
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]ChunkRecord
}

// NewMemoryIndex 创建空的内存索引
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]ChunkRecord)}
}

var _ VectorIndex = (*MemoryIndex)(nil)

func (m *MemoryIndex) Upsert(_ context.Context, records []ChunkRecord) error {
	for _, r := range records {
		if r.Key == "" {
			return errors.New("记录主键不能为空")
		}
		if len(r.Vector) == 0 {
			return errors.New("向量不能为空: " + r.Key)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.Key] = ChunkRecord{
			Key:    r.Key,
			Chunk:  r.Chunk,
			Vector: append([]float64(nil), r.Vector...),
		}
	}
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, vector []float64, k int) ([]ChunkHit, error) {
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	hits := make([]ChunkHit, 0, len(m.records))
	for _, r := range m.records {
		hits = append(hits, ChunkHit{Chunk: r.Chunk, Distance: cosineDistance(vector, r.Vector)})
	}
	m.mu.RUnlock()

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryIndex) ChunksByResume(_ context.Context, resumeID string) ([]types.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var chunks []types.Chunk
	for _, r := range m.records {
		if r.Chunk.ResumeID == resumeID {
			chunks = append(chunks, r.Chunk)
		}
	}
	sortByOrdinal(chunks)
	return chunks, nil
}

func (m *MemoryIndex) DeleteResume(_ context.Context, resumeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, r := range m.records {
		if r.Chunk.ResumeID == resumeID {
			delete(m.records, key)
		}
	}
	return nil
}

func (m *MemoryIndex) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]ChunkRecord)
	return nil
}

// Len 当前记录数
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// cosineDistance 1 - cos(a, b)，任一向量为零向量时距离为 1
func cosineDistance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
