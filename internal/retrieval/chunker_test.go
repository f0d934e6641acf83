package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunkerRejectsInvalidParams(t *testing.T) {
	tests := []struct {
		name         string
		max, overlap int
	}{
		{"零长度", 0, 0},
		{"重叠等于窗口", 100, 100},
		{"重叠大于窗口", 100, 150},
		{"负重叠", 100, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.max, tt.overlap)
			assert.Error(t, err)
		})
	}
}

func TestSplitShortTextYieldsOneChunk(t *testing.T) {
	c, err := NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)

	for _, n := range []int{1, 10, 1999, 2000} {
		text := strings.Repeat("a", n)
		chunks := c.Split("r1", "a.txt", text)
		require.Len(t, chunks, 1, "长度 %d 应只产生一个分块", n)
		assert.Equal(t, text, chunks[0].Text)
		assert.Equal(t, 0, chunks[0].Ordinal)
	}

	assert.Empty(t, c.Split("r1", "a.txt", ""), "空文本不产生分块")
}

func TestSplitCountMatchesFormula(t *testing.T) {
	params := []struct{ max, overlap int }{
		{2000, 200},
		{10, 3},
		{7, 1},
		{5, 0},
		{100, 99},
	}
	for _, p := range params {
		c, err := NewChunker(p.max, p.overlap)
		require.NoError(t, err)
		step := p.max - p.overlap

		for L := 1; L <= 3*p.max+7; L++ {
			chunks := c.Split("r", "f", strings.Repeat("x", L))

			want := 1
			if L > p.max {
				want = (L - p.overlap + step - 1) / step
			}
			require.Lenf(t, chunks, want, "max=%d overlap=%d L=%d", p.max, p.overlap, L)
			assert.Equal(t, want, c.Count(L))
		}
	}
}

func TestSplitCoversTextInOrder(t *testing.T) {
	c, err := NewChunker(10, 3)
	require.NoError(t, err)

	text := "简历正文包含中文字符以及 ASCII words to exercise rune based windows."
	runes := []rune(text)
	chunks := c.Split("r1", "cv.md", text)
	require.NotEmpty(t, chunks)

	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(runes), chunks[len(chunks)-1].End, "最后一个分块应覆盖到文本末尾")
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ordinal, "ordinal 必须从 0 连续递增")
		assert.Equal(t, "r1", ch.ResumeID)
		assert.Equal(t, "cv.md", ch.Filename)
		assert.Equal(t, string(runes[ch.Start:ch.End]), ch.Text)
		assert.LessOrEqual(t, ch.End-ch.Start, 10)
		if i > 0 {
			assert.Equal(t, chunks[i-1].Start+c.Step(), ch.Start)
			assert.LessOrEqual(t, ch.Start, chunks[i-1].End, "相邻分块之间不能有空隙")
		}
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	c, err := NewChunker(50, 10)
	require.NoError(t, err)

	text := strings.Repeat("Go backend engineer with Kubernetes experience. ", 20)
	first := c.Split("r1", "a.txt", text)
	second := c.Split("r1", "a.txt", text)
	assert.Equal(t, first, second)
}
