package storage_test

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruit-agent-go/internal/config"
	"recruit-agent-go/internal/constants"
	"recruit-agent-go/internal/storage"
	"recruit-agent-go/internal/types"
)

func sampleRun() *types.PipelineRun {
	msg := "boom"
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return &types.PipelineRun{
		RunID:             "run-1",
		JDID:              "jd-1",
		Status:            types.StatusFailed,
		ResumeIDs:         []string{"r1", "r2"},
		ApprovedResumeIDs: []string{"r1"},
		Emails:            []types.OutreachEmail{{ResumeID: "r1", Subject: "hi"}},
		Error:             &msg,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestNewStorage_NoBackendsConfigured(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	s, err := storage.NewStorage(context.Background(), cfg, nil)
	require.NoError(t, err, "未配置任何后端时也应成功")
	assert.Nil(t, s.MinIO)
	assert.Nil(t, s.Redis)
	assert.Nil(t, s.MySQL)
	assert.Equal(t, "none", s.Summary())
	s.Close()

	_, err = storage.NewStorage(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestRunEvent_FromRun(t *testing.T) {
	ev := storage.NewRunEvent("ev-1", sampleRun())
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, "boom", ev.Error)
	assert.Equal(t, 1, ev.EmailCount)
	assert.Equal(t, "run.failed", ev.RoutingKey(""))
	assert.Equal(t, "recruit.failed", ev.RoutingKey("recruit"))
}

func TestBuildRunRecord(t *testing.T) {
	rec, err := storage.BuildRunRecord(sampleRun())
	require.NoError(t, err)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "failed", rec.Status)
	assert.Equal(t, 2, rec.ResumeCount)
	assert.Equal(t, 1, rec.ApprovedCount)
	assert.Equal(t, "boom", rec.ErrorMessage)

	var snap types.PipelineRun
	require.NoError(t, json.Unmarshal(rec.Snapshot, &snap))
	assert.Equal(t, []string{"r1", "r2"}, snap.ResumeIDs)
}

func TestBuildOutboxMessage(t *testing.T) {
	msg, err := storage.BuildOutboxMessage(sampleRun(), storage.OutboxTarget{
		Exchange:      "recruit.pipeline.events",
		RoutingPrefix: "run",
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", msg.RunID)
	assert.Equal(t, "failed", msg.RunStatus)
	assert.Equal(t, "run.failed", msg.RoutingKey)
	assert.Equal(t, "recruit.pipeline.events", msg.Exchange)
	assert.Equal(t, constants.OutboxStatusPending, msg.Status)

	var ev storage.RunEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, msg.EventID, ev.EventID)
	assert.Equal(t, types.StatusFailed, ev.Status)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "doc-1/cv.pdf", storage.ObjectKey("doc-1", "cv.pdf"))
	assert.Equal(t, "doc-1/cv.pdf", storage.ObjectKey("doc-1", "../../etc/cv.pdf"))
	assert.Equal(t, "doc-1/cv.md", storage.ObjectKey("doc-1", `C:\Users\me\cv.md`))
	assert.Equal(t, "doc-1/upload", storage.ObjectKey("doc-1", ""))
}

func TestCacheKeys(t *testing.T) {
	a := storage.EmbeddingCacheKey("m", "hello")
	b := storage.EmbeddingCacheKey("m", "hello")
	c := storage.EmbeddingCacheKey("m2", "hello")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "recruit:embed:m:"))
	assert.Equal(t, "recruit:run:abc", storage.RunSnapshotKey("abc"))
}

// TestRedis_RunSnapshotRoundTrip 需要真实 Redis，设置 TEST_REDIS_ADDR 后运行
func TestRedis_RunSnapshotRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("未设置 TEST_REDIS_ADDR，跳过 Redis 集成测试")
	}
	r, err := storage.NewRedisAdapter(&config.RedisConfig{Address: addr, RunSnapshotTTL: "1m"})
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	run := sampleRun()
	require.NoError(t, r.SaveRunSnapshot(ctx, run))

	got, err := r.GetRunSnapshot(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.Status, got.Status)

	require.NoError(t, r.SetEmbedding(ctx, "m", "text", []float64{1, 2}, time.Minute))
	vec, ok, err := r.GetEmbedding(ctx, "m", "text")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float64{1, 2}, vec)

	require.NoError(t, r.DeleteRunSnapshots(ctx))
	_, err = r.GetRunSnapshot(ctx, run.RunID)
	assert.ErrorIs(t, err, storage.ErrCacheMiss)
}
