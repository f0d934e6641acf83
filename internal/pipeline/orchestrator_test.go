package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruit-agent-go/internal/agent"
	"recruit-agent-go/internal/embedding"
	"recruit-agent-go/internal/ingestion"
	"recruit-agent-go/internal/registry"
	"recruit-agent-go/internal/retrieval"
	"recruit-agent-go/internal/storage"
	"recruit-agent-go/internal/types"
	llm "recruit-agent-go/pkg/agent"
)

const testJD = "Senior Go engineer. Must know Kubernetes, PostgreSQL and distributed systems."

var testResumeFiles = map[string]string{
	"alice.txt": "Alice Chen. Go engineer, five years building Kubernetes operators and PostgreSQL tooling.",
	"bob.txt":   "Bob Li. Java developer focused on Spring Boot and Oracle databases.",
	"carol.md":  "Carol Wu. Distributed systems engineer, Go and Rust, consensus protocols.",
}

var resumeIDPattern = regexp.MustCompile(`RESUME_ID: (\S+)`)

// script 按提示词区分三个阶段的模拟模型
type script struct {
	evalErr   error
	writerErr error
}

func (s script) respond(input []*schema.Message) (string, error) {
	prompt := input[len(input)-1].Content
	ids := resumeIDPattern.FindAllStringSubmatch(prompt, -1)

	switch {
	case strings.Contains(prompt, "=== EVALUATIONS ==="):
		if s.writerErr != nil {
			return "", s.writerErr
		}
		emails := []map[string]any{}
		for _, m := range ids {
			emails = append(emails, map[string]any{
				"resume_id":      m[1],
				"candidate_name": "Candidate " + m[1][:4],
				"subject":        "Opportunity",
				"body":           "Hello from the team.",
			})
		}
		emails = append(emails, map[string]any{"resume_id": "ghost", "candidate_name": "Ghost"})
		b, _ := json.Marshal(emails)
		return string(b), nil

	case strings.Contains(prompt, "=== RESUMES ==="):
		if s.evalErr != nil {
			return "", s.evalErr
		}
		evals := []map[string]any{}
		for _, m := range ids {
			evals = append(evals, map[string]any{
				"resume_id":        m[1],
				"candidate_name":   "Candidate " + m[1][:4],
				"match_percentage": 75,
				"reasoning":        "solid match",
				"strengths":        []string{"Go"},
				"gap_analysis":     []any{"Rust"},
				"notable_projects": []string{},
				"shortlisted":      true,
			})
		}
		b, _ := json.Marshal(evals)
		return string(b), nil

	default:
		return `{"role_title":"Senior Go Engineer","technical_requirements":["Go","Kubernetes"],"summary":"Backend role."}`, nil
	}
}

type countingPurger struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPurger) DeleteRunSnapshots(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return nil
}

type harness struct {
	orch    *Orchestrator
	store   *registry.Store
	model   *llm.MockChatClient
	blobDir string
	purger  *countingPurger
	jd      types.Document
	resumes []types.Document
}

func newHarness(t *testing.T, model *llm.MockChatClient, opts ...Option) *harness {
	t.Helper()

	chunker, err := retrieval.NewChunker(200, 20)
	require.NoError(t, err)
	engine, err := retrieval.NewEngine(chunker, embedding.NewHashEmbedder(128), retrieval.NewMemoryIndex())
	require.NoError(t, err)

	blobDir := t.TempDir()
	blobs, err := ingestion.NewLocalBlobStore(blobDir)
	require.NoError(t, err)
	ingestor, err := ingestion.NewIngestor(ingestion.NewExtractor(nil), ingestion.WithBlobStore(blobs))
	require.NoError(t, err)

	researcher, err := agent.NewResearcher(model)
	require.NoError(t, err)
	evaluator, err := agent.NewEvaluator(model)
	require.NoError(t, err)
	writer, err := agent.NewWriter(model)
	require.NoError(t, err)

	purger := &countingPurger{}
	store := registry.NewStore()
	opts = append([]Option{WithSnapshotPurger(purger)}, opts...)
	orch, err := NewOrchestrator(store, engine, ingestor,
		Stages{Researcher: researcher, Evaluator: evaluator, Writer: writer}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Close(ctx)
	})

	return &harness{orch: orch, store: store, model: model, blobDir: blobDir, purger: purger}
}

// seed 上传 JD 与三份简历
func (h *harness) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	jd, err := h.orch.UploadJobDescription(ctx, ingestion.Upload{Filename: "jd.txt", Data: []byte(testJD)})
	require.NoError(t, err)
	h.jd = jd

	var ups []ingestion.Upload
	for _, name := range []string{"alice.txt", "bob.txt", "carol.md"} {
		ups = append(ups, ingestion.Upload{Filename: name, Data: []byte(testResumeFiles[name])})
	}
	docs, err := h.orch.UploadResumes(ctx, ups)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	h.resumes = docs
}

func (h *harness) resumeIDs() map[string]bool {
	out := make(map[string]bool, len(h.resumes))
	for _, d := range h.resumes {
		out[d.ID] = true
	}
	return out
}

func waitForStatus(t *testing.T, o *Orchestrator, runID string, want types.RunStatus) *types.PipelineRun {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, err := o.GetStatus(runID)
		return err == nil && (snap.Status == want || snap.Status.IsTerminal())
	}, 5*time.Second, 10*time.Millisecond, "运行未进入 %s", want)
	snap, err := o.GetStatus(runID)
	require.NoError(t, err)
	require.Equal(t, want, snap.Status, "error=%s", snap.ErrorMessage())
	return snap
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to types.RunStatus
		ok       bool
	}{
		{types.StatusPending, types.StatusResearching, true},
		{types.StatusResearching, types.StatusEvaluating, true},
		{types.StatusEvaluating, types.StatusAwaitingApproval, true},
		{types.StatusAwaitingApproval, types.StatusWritingEmails, true},
		{types.StatusWritingEmails, types.StatusCompleted, true},
		{types.StatusAwaitingApproval, types.StatusFailed, true},
		{types.StatusPending, types.StatusEvaluating, false},
		{types.StatusAwaitingApproval, types.StatusCompleted, false},
		{types.StatusCompleted, types.StatusFailed, false},
		{types.StatusFailed, types.StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			run := &types.PipelineRun{Status: tt.from}
			err := Transition(run, tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, run.Status)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, run.Status, "非法迁移不修改状态")
			}
		})
	}
}

func TestStartValidatesInputs(t *testing.T) {
	h := newHarness(t, llm.NewMockChatClientFunc(script{}.respond))
	ctx := context.Background()

	_, err := h.orch.Start(ctx, "missing", 2)
	assert.ErrorIs(t, err, types.ErrNotFound)

	jd, err := h.orch.UploadJobDescription(ctx, ingestion.Upload{Filename: "jd.txt", Data: []byte(testJD)})
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, jd.ID, 2)
	assert.ErrorIs(t, err, types.ErrValidation, "没有简历")

	docs, err := h.orch.UploadResumes(ctx, []ingestion.Upload{{Filename: "alice.txt", Data: []byte(testResumeFiles["alice.txt"])}})
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, docs[0].ID, 2)
	assert.ErrorIs(t, err, types.ErrNotFound, "简历不能当作 JD")
	assert.Equal(t, 0, h.store.RunCount())
}

func TestScenarioTopTwoOfThree(t *testing.T) {
	h := newHarness(t, llm.NewMockChatClientFunc(script{}.respond))
	h.seed(t)

	run, err := h.orch.Start(context.Background(), h.jd.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, run.Status)
	assert.Equal(t, h.jd.ID, run.JDID)

	snap := waitForStatus(t, h.orch, run.RunID, types.StatusAwaitingApproval)
	require.NotNil(t, snap.JDAnalysis)
	assert.Equal(t, "Senior Go Engineer", snap.JDAnalysis.RoleTitle)
	assert.Len(t, snap.ResumeIDs, 2)
	require.Len(t, snap.Evaluations, 2)

	known := h.resumeIDs()
	seen := map[string]bool{}
	for _, ev := range snap.Evaluations {
		assert.True(t, known[ev.ResumeID], "评估来自已上传的简历")
		assert.False(t, seen[ev.ResumeID], "没有重复")
		seen[ev.ResumeID] = true
	}
	assert.Nil(t, snap.Error)
}

func TestScenarioTopNClampedToResumeCount(t *testing.T) {
	for _, topN := range []int{10, 0} {
		h := newHarness(t, llm.NewMockChatClientFunc(script{}.respond))
		h.seed(t)

		run, err := h.orch.Start(context.Background(), h.jd.ID, topN)
		require.NoError(t, err)
		snap := waitForStatus(t, h.orch, run.RunID, types.StatusAwaitingApproval)
		assert.Len(t, snap.ResumeIDs, 3, "topN=%d", topN)
		assert.Len(t, snap.Evaluations, 3)
	}
}

func TestScenarioApproveNoneCompletesWithoutEmails(t *testing.T) {
	h := newHarness(t, llm.NewMockChatClientFunc(script{}.respond))
	h.seed(t)

	run, err := h.orch.Start(context.Background(), h.jd.ID, 2)
	require.NoError(t, err)
	waitForStatus(t, h.orch, run.RunID, types.StatusAwaitingApproval)
	callsBefore := h.model.CallCount()

	approved, err := h.orch.Approve(context.Background(), run.RunID, []string{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusWritingEmails, approved.Status)

	done := waitForStatus(t, h.orch, run.RunID, types.StatusCompleted)
	assert.NotNil(t, done.Emails)
	assert.Empty(t, done.Emails)
	assert.Equal(t, callsBefore, h.model.CallCount(), "没有批准时不调用 Writer")
}

func TestApproveSubsetWritesOnlyApprovedEmails(t *testing.T) {
	h := newHarness(t, llm.NewMockChatClientFunc(script{}.respond))
	h.seed(t)

	run, err := h.orch.Start(context.Background(), h.jd.ID, 3)
	require.NoError(t, err)
	snap := waitForStatus(t, h.orch, run.RunID, types.StatusAwaitingApproval)
	chosen := snap.Evaluations[0].ResumeID

	approved, err := h.orch.Approve(context.Background(), run.RunID, []string{chosen, chosen})
	require.NoError(t, err)
	assert.Equal(t, []string{chosen}, approved.ApprovedResumeIDs, "重复 id 合并")

	done := waitForStatus(t, h.orch, run.RunID, types.StatusCompleted)
	require.Len(t, done.Emails, 1)
	assert.Equal(t, chosen, done.Emails[0].ResumeID)
	assert.Equal(t, "Opportunity", done.Emails[0].Subject)

	msgs := h.model.GetReceivedMessages()
	writerPrompt := msgs[len(msgs)-1][1].Content
	assert.Contains(t, writerPrompt, "RESUME_ID: "+chosen)
	for _, ev := range snap.Evaluations[1:] {
		assert.NotContains(t, writerPrompt, "RESUME_ID: "+ev.ResumeID)
	}
}

func TestScenarioEvaluatorFailure(t *testing.T) {
	h := newHarness(t, llm.NewMockChatClientFunc(script{evalErr: errors.New("model overloaded")}.respond))
	h.seed(t)

	run, err := h.orch.Start(context.Background(), h.jd.ID, 2)
	require.NoError(t, err)

	snap := waitForStatus(t, h.orch, run.RunID, types.StatusFailed)
	assert.NotEmpty(t, snap.ErrorMessage())
	assert.Contains(t, snap.ErrorMessage(), "evaluator")
	assert.Empty(t, snap.Evaluations)
	assert.NotNil(t, snap.JDAnalysis, "Researcher 的结果保留")
}

func TestWriterFailureMarksRunFailed(t *testing.T) {
	h := newHarness(t, llm.NewMockChatClientFunc(script{writerErr: errors.New("boom")}.respond))
	h.seed(t)

	run, err := h.orch.Start(context.Background(), h.jd.ID, 1)
	require.NoError(t, err)
	snap := waitForStatus(t, h.orch, run.RunID, types.StatusAwaitingApproval)

	_, err = h.orch.Approve(context.Background(), run.RunID, []string{snap.Evaluations[0].ResumeID})
	require.NoError(t, err)
	failed := waitForStatus(t, h.orch, run.RunID, types.StatusFailed)
	assert.Contains(t, failed.ErrorMessage(), "writer")
	assert.Empty(t, failed.Emails)
}

func TestApproveOutsideAwaitingApprovalMutatesNothing(t *testing.T) {
	h := newHarness(t, llm.NewMockChatClientFunc(script{evalErr: errors.New("nope")}.respond))
	h.seed(t)

	run, err := h.orch.Start(context.Background(), h.jd.ID, 2)
	require.NoError(t, err)
	before := waitForStatus(t, h.orch, run.RunID, types.StatusFailed)

	_, err = h.orch.Approve(context.Background(), run.RunID, []string{h.resumes[0].ID})
	assert.ErrorIs(t, err, types.ErrInvalidState)
	assert.Contains(t, types.DetailOf(err), "expected 'awaiting_approval'")

	after, err := h.orch.GetStatus(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = h.orch.Approve(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestApproveTwiceIsRejected(t *testing.T) {
	h := newHarness(t, llm.NewMockChatClientFunc(script{}.respond))
	h.seed(t)

	run, err := h.orch.Start(context.Background(), h.jd.ID, 2)
	require.NoError(t, err)
	waitForStatus(t, h.orch, run.RunID, types.StatusAwaitingApproval)

	_, err = h.orch.Approve(context.Background(), run.RunID, nil)
	require.NoError(t, err)
	_, err = h.orch.Approve(context.Background(), run.RunID, nil)
	assert.ErrorIs(t, err, types.ErrInvalidState)
}

func TestApproveRejectsUnknownResumeIDs(t *testing.T) {
	h := newHarness(t, llm.NewMockChatClientFunc(script{}.respond))
	h.seed(t)

	run, err := h.orch.Start(context.Background(), h.jd.ID, 2)
	require.NoError(t, err)
	before := waitForStatus(t, h.orch, run.RunID, types.StatusAwaitingApproval)

	_, err = h.orch.Approve(context.Background(), run.RunID, []string{before.Evaluations[0].ResumeID, "nobody"})
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Contains(t, types.DetailOf(err), "nobody")

	after, err := h.orch.GetStatus(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, before, after, "拒绝时不修改运行")
}

func TestStageTimeoutFailsRun(t *testing.T) {
	model := llm.NewMockChatClientFunc(script{}.respond)
	model.Delay = time.Second
	h := newHarness(t, model, WithStageTimeout(50*time.Millisecond))
	h.seed(t)

	run, err := h.orch.Start(context.Background(), h.jd.ID, 2)
	require.NoError(t, err)
	snap := waitForStatus(t, h.orch, run.RunID, types.StatusFailed)
	assert.Equal(t, "stage researcher timed out after 50ms", snap.ErrorMessage())
}

func TestCallStageHandlesUncooperativeStages(t *testing.T) {
	_, err := callStage(context.Background(), "slow", 20*time.Millisecond, func(context.Context) (int, error) {
		time.Sleep(200 * time.Millisecond)
		return 1, nil
	})
	assert.EqualError(t, err, "stage slow timed out after 20ms")
	var timeout *StageTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "slow", timeout.Stage)

	_, err = callStage(context.Background(), "boom", time.Second, func(context.Context) (int, error) {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = callStage(ctx, "cancelled", time.Second, func(c context.Context) (int, error) {
		<-c.Done()
		return 0, c.Err()
	})
	assert.ErrorIs(t, err, errRunCancelled)

	v, err := callStage(context.Background(), "ok", time.Second, func(context.Context) (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestSpawnDropsTaskFromResetSession(t *testing.T) {
	h := newHarness(t, llm.NewMockChatClient("{}", nil))

	_, staleGen := h.store.CreateRun(&types.PipelineRun{RunID: "before-reset", Status: types.StatusPending})
	h.store.Reset()
	h.store.CreateRun(&types.PipelineRun{RunID: "r1", Status: types.StatusPending})

	// 模拟 Reset 落在 CreateRun 与 SetTask 之间：任务带着旧代数登记到新条目上
	ran := make(chan struct{}, 1)
	h.orch.spawn(staleGen, "r1", func(task *Task) { ran <- struct{}{} })

	handle, ok := h.store.Task("r1")
	require.True(t, ok)
	task := handle.(*Task)
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("旧会话的任务应立即结束")
	}
	assert.Error(t, task.ctx.Err(), "任务上下文已取消")
	select {
	case <-ran:
		t.Fatal("旧会话的任务体不应执行")
	default:
	}
}

func TestCancelMarksRunFailed(t *testing.T) {
	model := llm.NewMockChatClientFunc(script{}.respond)
	model.Delay = 5 * time.Second
	h := newHarness(t, model)
	h.seed(t)

	run, err := h.orch.Start(context.Background(), h.jd.ID, 2)
	require.NoError(t, err)
	waitForStatus(t, h.orch, run.RunID, types.StatusResearching)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := h.orch.Cancel(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, snap.Status)
	assert.Equal(t, "run cancelled", snap.ErrorMessage())

	_, err = h.orch.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestEditEmail(t *testing.T) {
	h := newHarness(t, llm.NewMockChatClientFunc(script{}.respond))
	h.seed(t)

	run, err := h.orch.Start(context.Background(), h.jd.ID, 1)
	require.NoError(t, err)
	snap := waitForStatus(t, h.orch, run.RunID, types.StatusAwaitingApproval)
	id := snap.Evaluations[0].ResumeID
	_, err = h.orch.Approve(context.Background(), run.RunID, []string{id})
	require.NoError(t, err)
	waitForStatus(t, h.orch, run.RunID, types.StatusCompleted)

	edited, err := h.orch.EditEmail(run.RunID, id, "New subject", "New body")
	require.NoError(t, err)
	require.Len(t, edited.Emails, 1)
	assert.Equal(t, "New subject", edited.Emails[0].Subject)
	assert.Equal(t, "New body", edited.Emails[0].Body)
	assert.Equal(t, types.StatusCompleted, edited.Status)

	_, err = h.orch.EditEmail(run.RunID, "nobody", "s", "b")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = h.orch.EditEmail("missing", id, "s", "b")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestResetSessionClearsEverything(t *testing.T) {
	model := llm.NewMockChatClientFunc(script{}.respond)
	model.Delay = 5 * time.Second
	h := newHarness(t, model)
	h.seed(t)
	purgesAfterSeed := h.purger.calls

	run, err := h.orch.Start(context.Background(), h.jd.ID, 2)
	require.NoError(t, err)
	waitForStatus(t, h.orch, run.RunID, types.StatusResearching)

	require.NoError(t, h.orch.ResetSession(context.Background()))

	_, err = h.orch.GetStatus(run.RunID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Empty(t, h.orch.Documents())
	assert.Equal(t, purgesAfterSeed+1, h.purger.calls)

	entries, err := os.ReadDir(h.blobDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "上传文件已清理")

	_, err = h.orch.Start(context.Background(), h.jd.ID, 2)
	assert.ErrorIs(t, err, types.ErrNotFound, "旧 JD 不再可用")

	// 旧任务被取消后不能写入新会话
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, h.store.RunCount())
}

func TestUploadJobDescriptionPurgesSession(t *testing.T) {
	h := newHarness(t, llm.NewMockChatClientFunc(script{}.respond))
	h.seed(t)
	require.Len(t, h.orch.Documents(), 4)

	jd, err := h.orch.UploadJobDescription(context.Background(), ingestion.Upload{Filename: "jd2.md", Data: []byte("Staff SRE")})
	require.NoError(t, err)
	docs := h.orch.Documents()
	require.Len(t, docs, 1)
	assert.Equal(t, jd.ID, docs[0].ID)
	assert.Equal(t, types.DocTypeJD, docs[0].DocType)
}

func TestUploadResumesRejectsUnsupportedBeforeStoring(t *testing.T) {
	h := newHarness(t, llm.NewMockChatClientFunc(script{}.respond))

	_, err := h.orch.UploadResumes(context.Background(), []ingestion.Upload{
		{Filename: "ok.txt", Data: []byte("fine")},
		{Filename: "bad.docx", Data: []byte("nope")},
	})
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Equal(t, "Unsupported file type: .docx", types.DetailOf(err))
	assert.Empty(t, h.orch.Documents())

	_, err = h.orch.UploadResumes(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = h.orch.UploadResumes(context.Background(), []ingestion.Upload{{Filename: "blank.txt", Data: []byte("   ")}})
	assert.ErrorIs(t, err, types.ErrExtraction)
}

type recordedTransition struct {
	status types.RunStatus
	target storage.OutboxTarget
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []recordedTransition
}

func (f *fakeRecorder) RecordRunTransition(_ context.Context, run *types.PipelineRun, target storage.OutboxTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, recordedTransition{status: run.Status, target: target})
	return nil
}

type fakeSaver struct {
	mu    sync.Mutex
	saved int
}

func (f *fakeSaver) SaveRunSnapshot(context.Context, *types.PipelineRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved++
	return errors.New("redis down")
}

func TestObserversReceiveCommits(t *testing.T) {
	recorder := &fakeRecorder{}
	saver := &fakeSaver{}
	target := storage.OutboxTarget{Exchange: "recruit.pipeline.events", RoutingPrefix: "run"}
	store := registry.NewStore(registry.WithCommitHook(NotifyObservers(
		LogObserver{},
		SnapshotObserver{Saver: saver},
		AuditObserver{Recorder: recorder, Target: target},
		nil,
	)))

	store.CreateRun(&types.PipelineRun{RunID: "r1", Status: types.StatusPending})
	_, err := store.UpdateRun("r1", func(run *types.PipelineRun) error {
		return Transition(run, types.StatusResearching)
	})
	require.NoError(t, err)
	_, err = store.UpdateRun("r1", func(run *types.PipelineRun) error {
		run.JDAnalysis = &types.JDAnalysis{RoleTitle: "SRE"}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 3, saver.saved, "快照每次提交都刷新，失败不影响提交")
	require.Len(t, recorder.seen, 2, "审计只记录状态变化")
	assert.Equal(t, types.StatusPending, recorder.seen[0].status)
	assert.Equal(t, types.StatusResearching, recorder.seen[1].status)
	assert.Equal(t, target, recorder.seen[1].target)
}
