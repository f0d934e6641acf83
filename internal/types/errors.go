package types

import (
	"errors"
	"fmt"
)

// ErrorKind 错误类别，API 层据此映射 HTTP 状态码
type ErrorKind string

const (
	KindNotFound       ErrorKind = "not_found"
	KindInvalidState   ErrorKind = "invalid_state"
	KindValidation     ErrorKind = "validation_error"
	KindExtraction     ErrorKind = "extraction_error"
	KindStageExecution ErrorKind = "stage_execution_error"
	KindRetrievalEmpty ErrorKind = "retrieval_empty"
)

// 定义基础错误类型
var (
	ErrNotFound       = errors.New("资源不存在")
	ErrInvalidState   = errors.New("当前状态不允许该操作")
	ErrValidation     = errors.New("请求参数无效")
	ErrExtraction     = errors.New("文本提取失败")
	ErrStageExecution = errors.New("阶段执行失败")
	ErrRetrievalEmpty = errors.New("检索结果为空")
)

var kindSentinels = map[ErrorKind]error{
	KindNotFound:       ErrNotFound,
	KindInvalidState:   ErrInvalidState,
	KindValidation:     ErrValidation,
	KindExtraction:     ErrExtraction,
	KindStageExecution: ErrStageExecution,
	KindRetrievalEmpty: ErrRetrievalEmpty,
}

// AppError 包含详细错误信息的自定义错误
// Detail 是面向调用方的说明，会原样出现在 HTTP 响应的 detail 字段中
type AppError struct {
	Kind   ErrorKind
	Op     string
	ID     string
	Detail string
	Err    error
}

func (e *AppError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 实现 errors.Is 接口，同类别的哨兵错误视为相等
func (e *AppError) Is(target error) bool {
	if sentinel, ok := kindSentinels[e.Kind]; ok && sentinel == target {
		return true
	}
	if t, ok := target.(*AppError); ok {
		return t.Kind == e.Kind && (t.ID == "" || t.ID == e.ID)
	}
	return false
}

// KindOf 取出错误链中第一个 AppError 的类别
func KindOf(err error) (ErrorKind, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind, true
		}
	}
	return "", false
}

// DetailOf 返回适合展示给调用方的错误说明
func DetailOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Detail != "" {
		return appErr.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// 错误构造函数
func NewNotFoundError(op, id, detail string) error {
	return &AppError{Kind: KindNotFound, Op: op, ID: id, Detail: detail}
}

func NewInvalidStateError(op, id, detail string) error {
	return &AppError{Kind: KindInvalidState, Op: op, ID: id, Detail: detail}
}

func NewValidationError(op, detail string) error {
	return &AppError{Kind: KindValidation, Op: op, Detail: detail}
}

func NewExtractionError(op, id, detail string, err error) error {
	return &AppError{Kind: KindExtraction, Op: op, ID: id, Detail: detail, Err: err}
}

func NewStageError(stage, detail string, err error) error {
	return &AppError{Kind: KindStageExecution, Op: stage, Detail: detail, Err: err}
}

func NewRetrievalEmptyError(runID string) error {
	return &AppError{Kind: KindRetrievalEmpty, Op: "retrieve", ID: runID, Detail: "No resumes found in the vector store."}
}
