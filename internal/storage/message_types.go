package storage

import (
	"time"

	"recruit-agent-go/internal/types"
)

// RunEvent 流水线状态变更事件，经 outbox 投递到 RabbitMQ
type RunEvent struct {
	EventID    string          `json:"event_id"`
	RunID      string          `json:"run_id"`
	JDID       string          `json:"jd_id"`
	Status     types.RunStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	ResumeIDs  []string        `json:"resume_ids,omitempty"`
	Approved   []string        `json:"approved_resume_ids,omitempty"`
	EmailCount int             `json:"email_count"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewRunEvent 从运行快照构造事件
func NewRunEvent(eventID string, run *types.PipelineRun) RunEvent {
	return RunEvent{
		EventID:    eventID,
		RunID:      run.RunID,
		JDID:       run.JDID,
		Status:     run.Status,
		Error:      run.ErrorMessage(),
		ResumeIDs:  append([]string(nil), run.ResumeIDs...),
		Approved:   append([]string(nil), run.ApprovedResumeIDs...),
		EmailCount: len(run.Emails),
		OccurredAt: run.UpdatedAt,
	}
}

// RoutingKey 事件的路由键 <prefix>.<status>
func (e RunEvent) RoutingKey(prefix string) string {
	if prefix == "" {
		prefix = "run"
	}
	return prefix + "." + string(e.Status)
}
