package pipeline

import (
	"context"
	"time"

	"recruit-agent-go/internal/logger"
	"recruit-agent-go/internal/registry"
	"recruit-agent-go/internal/storage"
	"recruit-agent-go/internal/types"
)

const observerTimeout = 3 * time.Second

// RunObserver 接收每次运行变更提交的通知，prev 为变更前状态
type RunObserver interface {
	OnRunCommitted(ctx context.Context, prev types.RunStatus, run *types.PipelineRun) error
}

// ObserverFunc 函数适配器
type ObserverFunc func(ctx context.Context, prev types.RunStatus, run *types.PipelineRun) error

// OnRunCommitted 实现 RunObserver
func (f ObserverFunc) OnRunCommitted(ctx context.Context, prev types.RunStatus, run *types.PipelineRun) error {
	return f(ctx, prev, run)
}

// NotifyObservers 把观察者串成 registry 的提交回调。观察者失败只记日志
func NotifyObservers(observers ...RunObserver) registry.CommitHook {
	return func(prev types.RunStatus, run *types.PipelineRun) {
		for _, o := range observers {
			if o == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
			if err := o.OnRunCommitted(ctx, prev, run); err != nil {
				logger.Warn().Err(err).Str("run_id", run.RunID).Str("status", string(run.Status)).Msg("运行观察者处理失败")
			}
			cancel()
		}
	}
}

// LogObserver 状态变化时输出结构化日志
type LogObserver struct{}

// OnRunCommitted 实现 RunObserver
func (LogObserver) OnRunCommitted(_ context.Context, prev types.RunStatus, run *types.PipelineRun) error {
	if prev == run.Status {
		return nil
	}
	ev := logger.Info()
	if run.Status == types.StatusFailed {
		ev = logger.Warn().Str("error", run.ErrorMessage())
	}
	ev.Str("run_id", run.RunID).
		Str("from", string(prev)).
		Str("to", string(run.Status)).
		Int("resumes", len(run.ResumeIDs)).
		Int("evaluations", len(run.Evaluations)).
		Int("emails", len(run.Emails)).
		Msg("流水线状态变化")
	return nil
}

// SnapshotSaver storage.Redis 实现了该接口
type SnapshotSaver interface {
	SaveRunSnapshot(ctx context.Context, run *types.PipelineRun) error
}

// SnapshotObserver 每次提交都刷新 Redis 中的运行快照
type SnapshotObserver struct {
	Saver SnapshotSaver
}

// OnRunCommitted 实现 RunObserver
func (o SnapshotObserver) OnRunCommitted(ctx context.Context, _ types.RunStatus, run *types.PipelineRun) error {
	return o.Saver.SaveRunSnapshot(ctx, run)
}

// TransitionRecorder storage.MySQL 实现了该接口
type TransitionRecorder interface {
	RecordRunTransition(ctx context.Context, run *types.PipelineRun, target storage.OutboxTarget) error
}

// AuditObserver 只在状态变化时写审计行与 outbox 事件
type AuditObserver struct {
	Recorder TransitionRecorder
	Target   storage.OutboxTarget
}

// OnRunCommitted 实现 RunObserver
func (o AuditObserver) OnRunCommitted(ctx context.Context, prev types.RunStatus, run *types.PipelineRun) error {
	if prev == run.Status {
		return nil
	}
	return o.Recorder.RecordRunTransition(ctx, run, o.Target)
}
