package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"recruit-agent-go/internal/types"
)

// DefaultCandidateName 模型没有给出姓名时使用
const DefaultCandidateName = "Unknown"

// Evaluator 按 JD 分析为每份简历打分
type Evaluator struct {
	*BaseAgent
}

// NewEvaluator 创建 Evaluator
func NewEvaluator(client model.ToolCallingChatModel, opts ...Option) (*Evaluator, error) {
	base, err := newBaseAgent(StageEvaluator, evaluatorSystemPrompt, client, evaluationsSchema, opts...)
	if err != nil {
		return nil, err
	}
	return &Evaluator{BaseAgent: base}, nil
}

// Evaluate 一次调用评估全部简历。任何一条记录无效都会使整个阶段失败；
// 引用了未提供的 resume_id 也视为无效记录，同一 resume_id 重复时保留第一条
func (e *Evaluator) Evaluate(ctx context.Context, analysis types.JDAnalysis, resumes []types.ResumeInput) Result[[]types.CandidateEvaluation] {
	if len(resumes) == 0 {
		return Ok([]types.CandidateEvaluation{})
	}

	raw, err := e.run(ctx, BuildEvaluatorPrompt(analysis, resumes), true)
	if err != nil {
		return stageFailure[[]types.CandidateEvaluation](e.Name, err)
	}

	var parsed []types.CandidateEvaluation
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return stageFailure[[]types.CandidateEvaluation](e.Name, fmt.Errorf("解析评估结果失败: %w", err))
	}

	known := make(map[string]struct{}, len(resumes))
	for _, r := range resumes {
		known[r.ID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(parsed))
	out := make([]types.CandidateEvaluation, 0, len(parsed))
	for i := range parsed {
		ev := parsed[i]
		ev.ResumeID = strings.TrimSpace(ev.ResumeID)
		if _, ok := known[ev.ResumeID]; !ok {
			return stageFailure[[]types.CandidateEvaluation](e.Name, fmt.Errorf("第 %d 条评估引用了未知的简历 %q", i, ev.ResumeID))
		}
		if _, dup := seen[ev.ResumeID]; dup {
			e.logger.Printf("代理 '%s': 忽略重复的评估 %s", e.Name, ev.ResumeID)
			continue
		}
		NormalizeEvaluation(&ev)
		if err := validate.Struct(ev); err != nil {
			return stageFailure[[]types.CandidateEvaluation](e.Name, fmt.Errorf("第 %d 条评估无效: %w", i, err))
		}
		seen[ev.ResumeID] = struct{}{}
		out = append(out, ev)
	}

	e.logger.Printf("代理 '%s': 评估 %d 份简历，得到 %d 条结果", e.Name, len(resumes), len(out))
	return Ok(out)
}

// NormalizeEvaluation 补齐默认值：分数截断到 [0,100]，入围与否按分数线重新计算
func NormalizeEvaluation(ev *types.CandidateEvaluation) {
	if strings.TrimSpace(ev.CandidateName) == "" {
		ev.CandidateName = DefaultCandidateName
	}
	switch {
	case ev.MatchPercentage < 0:
		ev.MatchPercentage = 0
	case ev.MatchPercentage > 100:
		ev.MatchPercentage = 100
	}
	ev.Shortlisted = ev.MatchPercentage >= types.ShortlistThreshold
	if ev.Strengths == nil {
		ev.Strengths = []string{}
	}
	if ev.NotableProjects == nil {
		ev.NotableProjects = []string{}
	}
	if ev.GapAnalysis == nil {
		ev.GapAnalysis = []types.GapItem{}
	}
}
