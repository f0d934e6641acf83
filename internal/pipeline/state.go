// Package pipeline 流水线编排：状态机、后台任务与审批
package pipeline

import (
	"errors"
	"fmt"

	"recruit-agent-go/internal/types"
)

// ErrInvalidTransition 状态迁移不在迁移表中
var ErrInvalidTransition = errors.New("非法的状态迁移")

// 合法迁移表；任意非终态都可以进入 failed
var transitions = map[types.RunStatus]types.RunStatus{
	types.StatusPending:          types.StatusResearching,
	types.StatusResearching:      types.StatusEvaluating,
	types.StatusEvaluating:       types.StatusAwaitingApproval,
	types.StatusAwaitingApproval: types.StatusWritingEmails,
	types.StatusWritingEmails:    types.StatusCompleted,
}

// CanTransition from -> to 是否合法
func CanTransition(from, to types.RunStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == types.StatusFailed {
		return true
	}
	next, ok := transitions[from]
	return ok && next == to
}

// Transition 修改运行状态，非法迁移时不做任何修改
func Transition(run *types.PipelineRun, to types.RunStatus) error {
	if !CanTransition(run.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, run.Status, to)
	}
	run.Status = to
	return nil
}
