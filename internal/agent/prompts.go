package agent

import (
	"encoding/json"
	"strings"

	"recruit-agent-go/internal/types"
)

const researcherSystemPrompt = `You are a seasoned technical recruiter with 15 years of experience. You are an expert at distinguishing must-haves from nice-to-haves in a job description. Reply with a single raw JSON object and nothing else.`

const researcherTaskPrompt = `Analyse the following Job Description and produce a structured JSON object with these exact keys:
- role_title (string)
- technical_requirements (array of strings)
- soft_skills (array of strings)
- cultural_fit_indicators (array of strings)
- experience_level (string, e.g. "Senior", "Mid-level")
- education_requirements (array of strings)
- nice_to_haves (array of strings)
- summary (string, a 2-3 sentence executive summary)

Use deep reasoning and do NOT rely on keyword matching. Infer implicit requirements from context.
Return a single raw JSON object with no markdown fences.

=== JOB DESCRIPTION ===
`

const evaluatorSystemPrompt = `You are an impartial candidate evaluator. You balance skill match with transferable experience and growth potential. Reply with a raw JSON array and nothing else.`

const evaluatorTaskPrompt = `You are given a structured JD analysis and a set of candidate resumes. For EACH resume produce a JSON object with these keys:
- resume_id (string, copy from the RESUME_ID header)
- candidate_name (string, extract from the resume)
- match_percentage (number 0-100)
- reasoning (string, a detailed paragraph explaining WHY this candidate is or is not a good fit; reason about the content, do NOT match keywords)
- strengths (array of strings)
- gap_analysis (array of objects with keys skill, trainable, severity where trainable is boolean and severity is "low" | "medium" | "high")
- notable_projects (array of strings, specific project names or descriptions found in the resume)
- shortlisted (boolean, true if match_percentage >= 60)

Return a JSON ARRAY of these objects, one per resume, with no markdown fences.

=== JD ANALYSIS ===
`

const writerSystemPrompt = `You are an expert recruiting copywriter whose outreach gets a 40%+ response rate. You are concise, warm and always candidate-specific. Reply with a raw JSON array and nothing else.`

const writerTaskPrompt = `For each of the following shortlisted candidate evaluations, write a personalised outreach email.

Each email MUST:
1. Address the candidate by name.
2. Mention a SPECIFIC project or achievement from their resume.
3. Explain why their background is a great fit for the role.
4. Keep the tone professional yet warm, and stay under 200 words.

Return a JSON ARRAY of objects with keys:
- resume_id (string)
- candidate_name (string)
- subject (string, the email subject line)
- body (string, the full email body)

No markdown fences.

=== JD ANALYSIS ===
`

const resumeSeparator = "\n---\n"

// BuildResearcherPrompt JD 文本放在 === JOB DESCRIPTION === 之后
func BuildResearcherPrompt(jdText string) string {
	return researcherTaskPrompt + jdText
}

// BuildEvaluatorPrompt 每份简历为 RESUME_ID/FILENAME 头加正文，简历之间用 --- 分隔
func BuildEvaluatorPrompt(analysis types.JDAnalysis, resumes []types.ResumeInput) string {
	blocks := make([]string, len(resumes))
	for i, r := range resumes {
		blocks[i] = "RESUME_ID: " + r.ID + "\nFILENAME: " + r.Filename + "\n\n" + r.Text
	}

	var sb strings.Builder
	sb.WriteString(evaluatorTaskPrompt)
	sb.WriteString(mustJSON(analysis))
	sb.WriteString("\n\n=== RESUMES ===\n")
	sb.WriteString(strings.Join(blocks, resumeSeparator))
	return sb.String()
}

// BuildWriterPrompt 依次为 JD ANALYSIS、EVALUATIONS、RESUMES 三段，简历块只有 RESUME_ID 头
func BuildWriterPrompt(analysis types.JDAnalysis, evaluations []types.CandidateEvaluation, resumes []types.ResumeInput) string {
	blocks := make([]string, len(resumes))
	for i, r := range resumes {
		blocks[i] = "RESUME_ID: " + r.ID + "\n\n" + r.Text
	}

	var sb strings.Builder
	sb.WriteString(writerTaskPrompt)
	sb.WriteString(mustJSON(analysis))
	sb.WriteString("\n\n=== EVALUATIONS ===\n")
	sb.WriteString(mustJSON(evaluations))
	sb.WriteString("\n\n=== RESUMES ===\n")
	sb.WriteString(strings.Join(blocks, resumeSeparator))
	return sb.String()
}

// 这些类型只含基本字段，序列化不会失败
func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
