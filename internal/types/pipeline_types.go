package types

import (
	"encoding/json"
	"strings"
	"time"
)

// RunStatus 流水线运行状态
type RunStatus string

const (
	StatusPending          RunStatus = "pending"
	StatusResearching      RunStatus = "researching"
	StatusEvaluating       RunStatus = "evaluating"
	StatusAwaitingApproval RunStatus = "awaiting_approval"
	StatusWritingEmails    RunStatus = "writing_emails"
	StatusCompleted        RunStatus = "completed"
	StatusFailed           RunStatus = "failed"
)

// IsTerminal 终态不允许再修改状态
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ShortlistThreshold 入围分数线
const ShortlistThreshold = 60.0

// JDAnalysis Researcher 阶段的输出
type JDAnalysis struct {
	RoleTitle             string   `json:"role_title"`
	TechnicalRequirements []string `json:"technical_requirements"`
	SoftSkills            []string `json:"soft_skills"`
	CulturalFitIndicators []string `json:"cultural_fit_indicators"`
	ExperienceLevel       string   `json:"experience_level"`
	EducationRequirements []string `json:"education_requirements"`
	NiceToHaves           []string `json:"nice_to_haves"`
	Summary               string   `json:"summary"`
}

// Severity 差距严重程度
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// GapItem 单项技能差距
type GapItem struct {
	Skill     string   `json:"skill" validate:"required"`
	Trainable bool     `json:"trainable"`
	Severity  Severity `json:"severity" validate:"oneof=low medium high"`
}

// UnmarshalJSON 兼容模型直接输出字符串的情况，并补齐默认值
func (g *GapItem) UnmarshalJSON(data []byte) error {
	var skill string
	if err := json.Unmarshal(data, &skill); err == nil {
		*g = GapItem{Skill: skill, Trainable: true, Severity: SeverityLow}
		return nil
	}

	var raw struct {
		Skill     string `json:"skill"`
		Trainable *bool  `json:"trainable"`
		Severity  string `json:"severity"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	g.Skill = raw.Skill
	g.Trainable = raw.Trainable == nil || *raw.Trainable
	g.Severity = Severity(strings.ToLower(strings.TrimSpace(raw.Severity)))
	if g.Severity == "" {
		g.Severity = SeverityLow
	}
	return nil
}

// CandidateEvaluation Evaluator 阶段对单份简历的评估
type CandidateEvaluation struct {
	ResumeID        string    `json:"resume_id" validate:"required"`
	CandidateName   string    `json:"candidate_name"`
	MatchPercentage float64   `json:"match_percentage" validate:"gte=0,lte=100"`
	Reasoning       string    `json:"reasoning"`
	Strengths       []string  `json:"strengths"`
	GapAnalysis     []GapItem `json:"gap_analysis" validate:"dive"`
	NotableProjects []string  `json:"notable_projects"`
	Shortlisted     bool      `json:"shortlisted"`
}

// OutreachEmail Writer 阶段生成的邮件
type OutreachEmail struct {
	ResumeID      string `json:"resume_id" validate:"required"`
	CandidateName string `json:"candidate_name"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
}

// PipelineRun 一次流水线运行
type PipelineRun struct {
	RunID             string                `json:"run_id"`
	JDID              string                `json:"jd_id"`
	Status            RunStatus             `json:"status"`
	JDAnalysis        *JDAnalysis           `json:"jd_analysis"`
	ResumeIDs         []string              `json:"resume_ids"`
	Evaluations       []CandidateEvaluation `json:"evaluations"`
	ApprovedResumeIDs []string              `json:"approved_resume_ids"`
	Emails            []OutreachEmail       `json:"emails"`
	Error             *string               `json:"error"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// Clone 深拷贝，用于对外返回快照
func (r *PipelineRun) Clone() *PipelineRun {
	if r == nil {
		return nil
	}
	c := *r
	if r.JDAnalysis != nil {
		a := *r.JDAnalysis
		a.TechnicalRequirements = cloneStrings(a.TechnicalRequirements)
		a.SoftSkills = cloneStrings(a.SoftSkills)
		a.CulturalFitIndicators = cloneStrings(a.CulturalFitIndicators)
		a.EducationRequirements = cloneStrings(a.EducationRequirements)
		a.NiceToHaves = cloneStrings(a.NiceToHaves)
		c.JDAnalysis = &a
	}
	c.ResumeIDs = cloneStrings(r.ResumeIDs)
	c.ApprovedResumeIDs = cloneStrings(r.ApprovedResumeIDs)
	c.Evaluations = make([]CandidateEvaluation, len(r.Evaluations))
	for i, e := range r.Evaluations {
		e.Strengths = cloneStrings(e.Strengths)
		e.NotableProjects = cloneStrings(e.NotableProjects)
		e.GapAnalysis = append(make([]GapItem, 0, len(e.GapAnalysis)), e.GapAnalysis...)
		c.Evaluations[i] = e
	}
	c.Emails = append(make([]OutreachEmail, 0, len(r.Emails)), r.Emails...)
	if r.Error != nil {
		msg := *r.Error
		c.Error = &msg
	}
	return &c
}

// ErrorMessage 返回错误信息，没有时为空串
func (r *PipelineRun) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

func cloneStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append(make([]string, 0, len(s)), s...)
}
