package agent

import (
	"recruit-agent-go/internal/types"
)

// Result 阶段执行结果：要么 Ok(value)，要么 Err(kind, msg)
type Result[T any] struct {
	value T
	err   *types.AppError
}

// Ok 成功结果
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Err 失败结果
func Err[T any](stage string, kind types.ErrorKind, msg string) Result[T] {
	return Result[T]{err: &types.AppError{Kind: kind, Op: stage, Detail: msg}}
}

// IsOk 是否成功
func (r Result[T]) IsOk() bool {
	return r.err == nil
}

// Value 成功时的值，失败时为零值
func (r Result[T]) Value() T {
	return r.value
}

// Err 失败时的错误，成功时为 nil
func (r Result[T]) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// Kind 失败类别，成功时为空
func (r Result[T]) Kind() types.ErrorKind {
	if r.err == nil {
		return ""
	}
	return r.err.Kind
}

// Message 失败说明，成功时为空
func (r Result[T]) Message() string {
	if r.err == nil {
		return ""
	}
	return r.err.Detail
}

// Unwrap 拆成 (value, error)
func (r Result[T]) Unwrap() (T, error) {
	return r.value, r.Err()
}

func stageFailure[T any](stage string, err error) Result[T] {
	return Err[T](stage, types.KindStageExecution, stage+" stage failed: "+err.Error())
}
