package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruit-agent-go/internal/types"
)

type fakeTask struct{ cancelled bool }

func (f *fakeTask) Cancel() { f.cancelled = true }

func newRun(id string) *types.PipelineRun {
	return &types.PipelineRun{RunID: id, JDID: "jd", Status: types.StatusPending}
}

func TestDocumentsOrderedByUploadTime(t *testing.T) {
	s := NewStore()
	base := time.Now()
	s.AddDocument(types.Document{ID: "b", DocType: types.DocTypeResume, UploadedAt: base.Add(time.Second)})
	s.AddDocument(types.Document{ID: "a", DocType: types.DocTypeJD, UploadedAt: base})
	s.AddDocument(types.Document{ID: "c", DocType: types.DocTypeResume, UploadedAt: base.Add(time.Second)})

	var ids []string
	for _, d := range s.ListDocuments() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids, "时间相同按插入顺序")
	assert.Len(t, s.Resumes(), 2)

	doc, ok := s.GetDocument("a")
	assert.True(t, ok)
	assert.Equal(t, types.DocTypeJD, doc.DocType)
	_, ok = s.GetDocument("zzz")
	assert.False(t, ok)
}

func TestUpdateRunCommitsOnlyOnSuccess(t *testing.T) {
	s := NewStore()
	created, gen := s.CreateRun(newRun("r1"))
	assert.Equal(t, uint64(0), gen)
	assert.False(t, created.CreatedAt.IsZero())

	_, err := s.UpdateRun("r1", func(run *types.PipelineRun) error {
		run.Status = types.StatusFailed
		run.ResumeIDs = append(run.ResumeIDs, "x")
		return errors.New("rejected")
	})
	require.Error(t, err)

	snap, err := s.Snapshot("r1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, snap.Status, "fn 出错时不修改")
	assert.Empty(t, snap.ResumeIDs)

	updated, err := s.UpdateRun("r1", func(run *types.PipelineRun) error {
		run.Status = types.StatusResearching
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusResearching, updated.Status)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	_, err = s.UpdateRun("missing", func(*types.PipelineRun) error { return nil })
	assert.True(t, errors.Is(err, types.ErrNotFound))
	_, err = s.Snapshot("missing")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := NewStore()
	s.CreateRun(newRun("r1"))
	_, err := s.UpdateRun("r1", func(run *types.PipelineRun) error {
		run.Emails = []types.OutreachEmail{{ResumeID: "a", Subject: "hi"}}
		return nil
	})
	require.NoError(t, err)

	snap, err := s.Snapshot("r1")
	require.NoError(t, err)
	snap.Emails[0].Subject = "changed"

	again, err := s.Snapshot("r1")
	require.NoError(t, err)
	assert.Equal(t, "hi", again.Emails[0].Subject)
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	s := NewStore()
	s.CreateRun(newRun("r1"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.UpdateRun("r1", func(run *types.PipelineRun) error {
				run.ResumeIDs = append(run.ResumeIDs, fmt.Sprintf("id-%d", i))
				return nil
			})
		}(i)
	}
	wg.Wait()

	snap, err := s.Snapshot("r1")
	require.NoError(t, err)
	assert.Len(t, snap.ResumeIDs, 50, "没有丢失的更新")
}

func TestCommitHookSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	s := NewStore(WithCommitHook(func(prev types.RunStatus, run *types.PipelineRun) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, fmt.Sprintf("%s->%s", prev, run.Status))
	}))
	s.CreateRun(newRun("r1"))
	_, err := s.UpdateRun("r1", func(run *types.PipelineRun) error {
		run.Status = types.StatusResearching
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"->pending", "pending->researching"}, seen)
}

func TestCommitHookRunsOutsideRunLock(t *testing.T) {
	var s *Store
	release := make(chan struct{})
	var blocked sync.Once
	s = NewStore(WithCommitHook(func(prev types.RunStatus, run *types.PipelineRun) {
		// 回调内可以读同一个运行
		_, err := s.Snapshot(run.RunID)
		assert.NoError(t, err)
		if run.Status == types.StatusResearching {
			blocked.Do(func() { <-release })
		}
	}))
	s.CreateRun(newRun("r1"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.UpdateRun("r1", func(run *types.PipelineRun) error {
			run.Status = types.StatusResearching
			return nil
		})
	}()

	// 慢回调期间，读取不被阻塞
	require.Eventually(t, func() bool {
		snap, err := s.Snapshot("r1")
		return err == nil && snap.Status == types.StatusResearching
	}, time.Second, 5*time.Millisecond)

	select {
	case <-done:
		t.Fatal("回调完成前 UpdateRun 不应返回")
	default:
	}
	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("UpdateRun 未返回")
	}
}

func TestCommitHooksKeepCommitOrder(t *testing.T) {
	var mu sync.Mutex
	var lengths []int
	s := NewStore(WithCommitHook(func(prev types.RunStatus, run *types.PipelineRun) {
		mu.Lock()
		defer mu.Unlock()
		lengths = append(lengths, len(run.ResumeIDs))
	}))
	s.CreateRun(newRun("r1"))

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.UpdateRun("r1", func(run *types.PipelineRun) error {
				run.ResumeIDs = append(run.ResumeIDs, fmt.Sprintf("id-%d", i))
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lengths, 31)
	for i, n := range lengths {
		assert.Equal(t, i, n, "回调顺序与提交顺序一致")
	}
}

func TestResetBumpsGenerationAndRejectsStaleWriters(t *testing.T) {
	s := NewStore()
	s.AddDocument(types.Document{ID: "d1", DocType: types.DocTypeResume})
	_, gen := s.CreateRun(newRun("r1"))
	task := &fakeTask{}
	require.NoError(t, s.SetTask("r1", task))
	h, ok := s.Task("r1")
	assert.True(t, ok)
	assert.Equal(t, task, h)

	tasks := s.Reset()
	require.Len(t, tasks, 1)
	tasks[0].Cancel()
	assert.True(t, task.cancelled)

	assert.Equal(t, gen+1, s.Generation())
	assert.Empty(t, s.ListDocuments())
	assert.Equal(t, 0, s.RunCount())

	_, err := s.UpdateRunAt(gen, "r1", func(run *types.PipelineRun) error {
		run.Status = types.StatusFailed
		return nil
	})
	assert.ErrorIs(t, err, ErrStaleGeneration)

	// 新会话里同名运行不受旧任务影响
	s.CreateRun(newRun("r1"))
	_, err = s.UpdateRunAt(gen, "r1", func(run *types.PipelineRun) error {
		run.Status = types.StatusFailed
		return nil
	})
	assert.ErrorIs(t, err, ErrStaleGeneration)
	snap, err := s.Snapshot("r1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, snap.Status)
}

func TestClockStampsCreateAndUpdate(t *testing.T) {
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(func() time.Time { return ts }))

	created, _ := s.CreateRun(newRun("r1"))
	assert.Equal(t, ts, created.CreatedAt)
	assert.Equal(t, ts, created.UpdatedAt)

	ts = ts.Add(time.Minute)
	updated, err := s.UpdateRun("r1", func(run *types.PipelineRun) error {
		run.Status = types.StatusResearching
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Equal(t, ts, updated.UpdatedAt)
}
