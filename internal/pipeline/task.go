package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// errRunCancelled 运行被取消（Cancel 或会话重置）
var errRunCancelled = errors.New("run cancelled")

// StageTimeoutError 阶段超过 stage_timeout
type StageTimeoutError struct {
	Stage string
	After time.Duration
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out after %s", e.Stage, e.After)
}

// Task 一个运行的后台任务句柄
type Task struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newTask(parent context.Context) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Cancel 取消任务，可重复调用
func (t *Task) Cancel() {
	t.cancel()
}

// Done 任务结束后关闭
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait 等待任务结束或 ctx 到期
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) finish() {
	t.once.Do(func() {
		close(t.done)
		t.cancel()
	})
}

type stageOutcome[T any] struct {
	value T
	err   error
}

// callStage 在独立 goroutine 中执行阶段并施加超时。阶段不响应 ctx 时也能按时返回，
// 阶段内的 panic 被转换为错误
func callStage[T any](ctx context.Context, name string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan stageOutcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- stageOutcome[T]{err: fmt.Errorf("stage %s panicked: %v", name, r)}
			}
		}()
		v, err := fn(sctx)
		ch <- stageOutcome[T]{value: v, err: err}
	}()

	select {
	case out := <-ch:
		if ctx.Err() != nil {
			return zero, errRunCancelled
		}
		if out.err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
			return zero, &StageTimeoutError{Stage: name, After: timeout}
		}
		return out.value, out.err
	case <-sctx.Done():
		if ctx.Err() != nil {
			return zero, errRunCancelled
		}
		return zero, &StageTimeoutError{Stage: name, After: timeout}
	}
}
