package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"recruit-agent-go/internal/agent"
	"recruit-agent-go/internal/constants"
	"recruit-agent-go/internal/ingestion"
	"recruit-agent-go/internal/registry"
	"recruit-agent-go/internal/retrieval"
	"recruit-agent-go/internal/tracing"
	"recruit-agent-go/internal/types"
)

var pipelineTracer = otel.Tracer("recruit-agent-go/pipeline")

const (
	// DefaultTopN 未指定 topN 时检索的简历数
	DefaultTopN = 5
	// DefaultStageTimeout 单个阶段的默认超时
	DefaultStageTimeout = 120 * time.Second

	stageRetrieval = "retrieval"
)

// Researcher 岗位描述分析阶段
type Researcher interface {
	Research(ctx context.Context, jdText string) agent.Result[types.JDAnalysis]
}

// Evaluator 简历评估阶段
type Evaluator interface {
	Evaluate(ctx context.Context, analysis types.JDAnalysis, resumes []types.ResumeInput) agent.Result[[]types.CandidateEvaluation]
}

// Writer 邮件撰写阶段
type Writer interface {
	Write(ctx context.Context, analysis types.JDAnalysis, evaluations []types.CandidateEvaluation, resumes []types.ResumeInput) agent.Result[[]types.OutreachEmail]
}

// Stages 流水线的三个模型阶段
type Stages struct {
	Researcher Researcher
	Evaluator  Evaluator
	Writer     Writer
}

// Retriever retrieval.Engine 实现了该接口
type Retriever interface {
	IndexResume(ctx context.Context, doc types.Document) (int, error)
	Query(ctx context.Context, text string, n int) ([]retrieval.Match, error)
	Reconstruct(ctx context.Context, resumeID string) (string, error)
	Reset(ctx context.Context) error
}

// SnapshotPurger storage.Redis 实现了该接口
type SnapshotPurger interface {
	DeleteRunSnapshots(ctx context.Context) error
}

// Orchestrator 管理运行的生命周期：启动、审批、编辑与会话重置
type Orchestrator struct {
	store     *registry.Store
	retriever Retriever
	ingestor  *ingestion.Ingestor
	stages    Stages
	purger    SnapshotPurger

	defaultTopN  int
	stageTimeout time.Duration
	logger       *log.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// Option Orchestrator 的可选配置
type Option func(*Orchestrator)

// WithDefaultTopN 设置默认 topN，非正数忽略
func WithDefaultTopN(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.defaultTopN = n
		}
	}
}

// WithStageTimeout 设置单阶段超时，非正数忽略
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stageTimeout = d
		}
	}
}

// WithSnapshotPurger 会话重置时清理缓存的运行快照
func WithSnapshotPurger(p SnapshotPurger) Option {
	return func(o *Orchestrator) {
		o.purger = p
	}
}

// WithLogger 设置日志记录器
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator 创建编排器
func NewOrchestrator(store *registry.Store, retriever Retriever, ingestor *ingestion.Ingestor, stages Stages, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("registry 不能为空")
	}
	if retriever == nil {
		return nil, fmt.Errorf("检索引擎不能为空")
	}
	if ingestor == nil {
		return nil, fmt.Errorf("文档导入器不能为空")
	}
	if stages.Researcher == nil || stages.Evaluator == nil || stages.Writer == nil {
		return nil, fmt.Errorf("Researcher、Evaluator、Writer 均不能为空")
	}

	o := &Orchestrator{
		store:        store,
		retriever:    retriever,
		ingestor:     ingestor,
		stages:       stages,
		defaultTopN:  DefaultTopN,
		stageTimeout: DefaultStageTimeout,
		logger:       log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.baseCtx, o.stop = context.WithCancel(context.Background())
	return o, nil
}

// Close 取消所有后台任务并等待其退出
func (o *Orchestrator) Close(ctx context.Context) error {
	o.stop()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start 创建运行并立即返回 pending 快照，研究、检索与评估在后台执行
func (o *Orchestrator) Start(ctx context.Context, jdID string, topN int) (*types.PipelineRun, error) {
	_, span := pipelineTracer.Start(ctx, "Pipeline.Start",
		trace.WithAttributes(attribute.String("jd.id", jdID), attribute.Int("top_n", topN)))
	defer span.End()

	jd, ok := o.store.GetDocument(jdID)
	if !ok || jd.DocType != types.DocTypeJD {
		err := types.NewNotFoundError("start", jdID, "Job description not found")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	resumes := o.store.Resumes()
	if len(resumes) == 0 {
		err := types.NewValidationError("start", "No resumes uploaded")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	if topN <= 0 {
		topN = o.defaultTopN
	}
	if topN > len(resumes) {
		topN = len(resumes)
	}

	run := &types.PipelineRun{
		RunID:             uuid.NewString(),
		JDID:              jdID,
		Status:            types.StatusPending,
		ResumeIDs:         []string{},
		Evaluations:       []types.CandidateEvaluation{},
		ApprovedResumeIDs: []string{},
		Emails:            []types.OutreachEmail{},
	}
	snap, gen := o.store.CreateRun(run)
	span.SetAttributes(attribute.String("run.id", snap.RunID), attribute.Int("top_n.effective", topN))

	o.spawn(gen, snap.RunID, func(task *Task) {
		o.runAnalysis(task, gen, snap.RunID, jd, topN)
	})
	o.logger.Printf("[pipeline] 运行 %s 已创建, jd=%s, topN=%d", snap.RunID, jdID, topN)
	return snap, nil
}

// spawn 启动后台任务并登记到 registry
func (o *Orchestrator) spawn(gen uint64, runID string, body func(task *Task)) {
	task := newTask(o.baseCtx)
	if err := o.store.SetTask(runID, task); err != nil {
		// 运行已被并发的重置清掉
		task.finish()
		return
	}
	// Reset 可能发生在 SetTask 取到旧条目之后，这时句柄不在 Reset 返回的列表里
	if o.store.Generation() != gen {
		task.finish()
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer task.finish()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Printf("[pipeline] 运行 %s 后台任务 panic: %v", runID, r)
				o.fail(gen, runID, fmt.Sprintf("internal error: %v", r))
			}
		}()
		body(task)
	}()
}

func (o *Orchestrator) runAnalysis(task *Task, gen uint64, runID string, jd types.Document, topN int) {
	ctx, span := pipelineTracer.Start(task.ctx, "Pipeline.Analysis",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	if !o.advance(gen, runID, func(run *types.PipelineRun) error {
		return Transition(run, types.StatusResearching)
	}) {
		return
	}

	analysis, err := callStage(ctx, agent.StageResearcher, o.stageTimeout, func(sctx context.Context) (types.JDAnalysis, error) {
		return o.stages.Researcher.Research(sctx, jd.Text).Unwrap()
	})
	if err != nil {
		o.failWith(span, gen, runID, err)
		return
	}
	if !o.advance(gen, runID, func(run *types.PipelineRun) error {
		a := analysis
		run.JDAnalysis = &a
		return nil
	}) {
		return
	}

	resumes, err := callStage(ctx, stageRetrieval, o.stageTimeout, func(sctx context.Context) ([]types.ResumeInput, error) {
		return o.retrieveResumes(sctx, runID, jd.Text, topN)
	})
	if err != nil {
		o.failWith(span, gen, runID, err)
		return
	}

	ids := make([]string, len(resumes))
	for i, r := range resumes {
		ids[i] = r.ID
	}
	if !o.advance(gen, runID, func(run *types.PipelineRun) error {
		run.ResumeIDs = ids
		return Transition(run, types.StatusEvaluating)
	}) {
		return
	}

	evaluations, err := callStage(ctx, agent.StageEvaluator, o.stageTimeout, func(sctx context.Context) ([]types.CandidateEvaluation, error) {
		return o.stages.Evaluator.Evaluate(sctx, analysis, resumes).Unwrap()
	})
	if err != nil {
		o.failWith(span, gen, runID, err)
		return
	}
	if evaluations == nil {
		evaluations = []types.CandidateEvaluation{}
	}
	o.advance(gen, runID, func(run *types.PipelineRun) error {
		if err := ctx.Err(); err != nil {
			return errRunCancelled
		}
		run.Evaluations = evaluations
		return Transition(run, types.StatusAwaitingApproval)
	})
}

// retrieveResumes 检索并并发重建每份命中简历的全文，保持排名顺序
func (o *Orchestrator) retrieveResumes(ctx context.Context, runID, jdText string, topN int) ([]types.ResumeInput, error) {
	matches, err := o.retriever.Query(ctx, jdText, topN)
	if err != nil {
		return nil, fmt.Errorf("检索简历失败: %w", err)
	}
	if len(matches) == 0 {
		return nil, types.NewRetrievalEmptyError(runID)
	}

	out := make([]types.ResumeInput, len(matches))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range matches {
		i, m := i, m
		g.Go(func() error {
			text, err := o.retriever.Reconstruct(gctx, m.ResumeID)
			if err != nil {
				return fmt.Errorf("重建简历 %s 全文失败: %w", m.ResumeID, err)
			}
			if strings.TrimSpace(text) == "" {
				text = m.ChunkText
			}
			out[i] = types.ResumeInput{ID: m.ResumeID, Filename: m.Filename, Text: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Approve 记录审批结果并同步进入 writing_emails，写信在后台执行
func (o *Orchestrator) Approve(ctx context.Context, runID string, ids []string) (*types.PipelineRun, error) {
	_, span := pipelineTracer.Start(ctx, "Pipeline.Approve",
		trace.WithAttributes(attribute.String("run.id", runID), attribute.Int("approved.count", len(ids))))
	defer span.End()

	gen := o.store.Generation()
	snap, err := o.store.UpdateRun(runID, func(run *types.PipelineRun) error {
		if run.Status != types.StatusAwaitingApproval {
			return types.NewInvalidStateError("approve", runID,
				fmt.Sprintf("Pipeline is in '%s' state, expected '%s'.", run.Status, types.StatusAwaitingApproval))
		}

		known := make(map[string]struct{}, len(run.Evaluations))
		for _, ev := range run.Evaluations {
			known[ev.ResumeID] = struct{}{}
		}
		approved := make([]string, 0, len(ids))
		seen := make(map[string]struct{}, len(ids))
		var unknown []string
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if _, ok := known[id]; !ok {
				unknown = append(unknown, id)
				continue
			}
			approved = append(approved, id)
		}
		if len(unknown) > 0 {
			return types.NewValidationError("approve", "Unknown resume ids: "+strings.Join(unknown, ", "))
		}

		run.ApprovedResumeIDs = approved
		return Transition(run, types.StatusWritingEmails)
	})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	o.spawn(gen, runID, func(task *Task) {
		o.runWriter(task, gen, runID)
	})
	return snap, nil
}

func (o *Orchestrator) runWriter(task *Task, gen uint64, runID string) {
	ctx, span := pipelineTracer.Start(task.ctx, "Pipeline.Writer",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	run, err := o.store.Snapshot(runID)
	if err != nil {
		return
	}

	approvedSet := make(map[string]struct{}, len(run.ApprovedResumeIDs))
	for _, id := range run.ApprovedResumeIDs {
		approvedSet[id] = struct{}{}
	}
	var approved []types.CandidateEvaluation
	for _, ev := range run.Evaluations {
		if _, ok := approvedSet[ev.ResumeID]; ok {
			approved = append(approved, ev)
		}
	}

	if len(approved) == 0 {
		o.advance(gen, runID, func(r *types.PipelineRun) error {
			r.Emails = []types.OutreachEmail{}
			return Transition(r, types.StatusCompleted)
		})
		return
	}

	var analysis types.JDAnalysis
	if run.JDAnalysis != nil {
		analysis = *run.JDAnalysis
	}

	emails, err := callStage(ctx, agent.StageWriter, o.stageTimeout, func(sctx context.Context) ([]types.OutreachEmail, error) {
		resumes, err := o.approvedResumes(sctx, approved)
		if err != nil {
			return nil, err
		}
		return o.stages.Writer.Write(sctx, analysis, approved, resumes).Unwrap()
	})
	if err != nil {
		o.failWith(span, gen, runID, err)
		return
	}

	kept := make([]types.OutreachEmail, 0, len(emails))
	for _, e := range emails {
		if _, ok := approvedSet[e.ResumeID]; ok {
			kept = append(kept, e)
		}
	}
	o.advance(gen, runID, func(r *types.PipelineRun) error {
		if err := ctx.Err(); err != nil {
			return errRunCancelled
		}
		r.Emails = kept
		return Transition(r, types.StatusCompleted)
	})
}

// approvedResumes 重建已批准简历的全文；文件名取自 registry，缺失时为 unknown
func (o *Orchestrator) approvedResumes(ctx context.Context, approved []types.CandidateEvaluation) ([]types.ResumeInput, error) {
	out := make([]types.ResumeInput, len(approved))
	g, gctx := errgroup.WithContext(ctx)
	for i, ev := range approved {
		i, id := i, ev.ResumeID
		g.Go(func() error {
			text, err := o.retriever.Reconstruct(gctx, id)
			if err != nil {
				return fmt.Errorf("重建简历 %s 全文失败: %w", id, err)
			}
			filename := constants.UnknownFilename
			if doc, ok := o.store.GetDocument(id); ok {
				filename = doc.Filename
				if strings.TrimSpace(text) == "" {
					text = doc.Text
				}
			}
			out[i] = types.ResumeInput{ID: id, Filename: filename, Text: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetStatus 运行的深拷贝快照
func (o *Orchestrator) GetStatus(runID string) (*types.PipelineRun, error) {
	return o.store.Snapshot(runID)
}

// EditEmail 覆盖指定简历对应邮件的主题与正文
func (o *Orchestrator) EditEmail(runID, resumeID, subject, body string) (*types.PipelineRun, error) {
	return o.store.UpdateRun(runID, func(run *types.PipelineRun) error {
		for i := range run.Emails {
			if run.Emails[i].ResumeID == resumeID {
				run.Emails[i].Subject = subject
				run.Emails[i].Body = body
				return nil
			}
		}
		return types.NewNotFoundError("edit_email", resumeID, "Email not found")
	})
}

// Cancel 取消运行的后台任务；运行尚未结束时进入 failed
func (o *Orchestrator) Cancel(ctx context.Context, runID string) (*types.PipelineRun, error) {
	if _, err := o.store.Snapshot(runID); err != nil {
		return nil, err
	}
	if h, ok := o.store.Task(runID); ok {
		h.Cancel()
		if task, ok := h.(*Task); ok {
			if err := task.Wait(ctx); err != nil {
				return nil, err
			}
		}
	}

	snap, err := o.store.UpdateRun(runID, func(run *types.PipelineRun) error {
		if run.Status.IsTerminal() {
			return ErrInvalidTransition
		}
		msg := errRunCancelled.Error()
		run.Error = &msg
		return Transition(run, types.StatusFailed)
	})
	if errors.Is(err, ErrInvalidTransition) {
		return o.store.Snapshot(runID)
	}
	return snap, err
}

// advance 以会话代数为条件提交后台写入，失败返回 false
func (o *Orchestrator) advance(gen uint64, runID string, fn func(run *types.PipelineRun) error) bool {
	if _, err := o.store.UpdateRunAt(gen, runID, fn); err != nil {
		if errors.Is(err, errRunCancelled) {
			o.fail(gen, runID, errRunCancelled.Error())
			return false
		}
		o.logger.Printf("[pipeline] 运行 %s 更新被拒绝: %v", runID, err)
		return false
	}
	return true
}

func (o *Orchestrator) failWith(span trace.Span, gen uint64, runID string, err error) {
	var timeout *StageTimeoutError
	errType := tracing.ErrorTypeLLM
	switch {
	case errors.Is(err, errRunCancelled):
		errType = tracing.ErrorTypeCancelled
	case errors.Is(err, types.ErrRetrievalEmpty):
		errType = tracing.ErrorTypeVectorDB
	case errors.As(err, &timeout):
		errType = tracing.ErrorTypeTimeout
	}
	tracing.RecordError(span, err, errType)
	o.fail(gen, runID, types.DetailOf(err))
}

// fail 记录错误并进入 failed，已是终态时不做修改
func (o *Orchestrator) fail(gen uint64, runID, msg string) {
	_, err := o.store.UpdateRunAt(gen, runID, func(run *types.PipelineRun) error {
		if run.Status.IsTerminal() {
			return ErrInvalidTransition
		}
		run.Error = &msg
		return Transition(run, types.StatusFailed)
	})
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		o.logger.Printf("[pipeline] 运行 %s 无法标记为失败: %v", runID, err)
	}
}
