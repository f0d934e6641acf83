package retrieval

import (
	"fmt"

	"recruit-agent-go/internal/types"
)

// 默认分块参数（按字符计）
const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 200
)

// Chunker 固定窗口、带重叠的文本分块器
type Chunker struct {
	maxChars int
	overlap  int
}

// NewChunker 创建分块器，要求 0 <= overlap < maxChars
func NewChunker(maxChars, overlap int) (*Chunker, error) {
	if maxChars <= 0 {
		return nil, fmt.Errorf("分块大小必须为正数: %d", maxChars)
	}
	if overlap < 0 || overlap >= maxChars {
		return nil, fmt.Errorf("重叠长度必须在 [0, %d) 内: %d", maxChars, overlap)
	}
	return &Chunker{maxChars: maxChars, overlap: overlap}, nil
}

// Step 每个窗口前进的字符数
func (c *Chunker) Step() int {
	return c.maxChars - c.overlap
}

// Split 把文本切成有序分块，ordinal 从 0 连续递增。
// 窗口按 maxChars-overlap 前进，窗口末尾到达文本末尾后停止，
// 因此长度不超过 maxChars 的文本只产生一个分块。
func (c *Chunker) Split(resumeID, filename, text string) []types.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	chunks := make([]types.Chunk, 0, c.Count(len(runes)))
	for start := 0; start < len(runes); start += c.Step() {
		end := start + c.maxChars
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, types.Chunk{
			ResumeID: resumeID,
			Filename: filename,
			Ordinal:  len(chunks),
			Start:    start,
			End:      end,
			Text:     string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Count 计算长度为 n 的文本会产生的分块数
func (c *Chunker) Count(n int) int {
	if n <= 0 {
		return 0
	}
	if n <= c.maxChars {
		return 1
	}
	step := c.Step()
	return (n - c.overlap + step - 1) / step
}
