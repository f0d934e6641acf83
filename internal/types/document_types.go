package types

import "time"

// DocType 文档类别
type DocType string

const (
	// DocTypeJD 岗位描述
	DocTypeJD DocType = "jd"
	// DocTypeResume 简历
	DocTypeResume DocType = "resume"
)

// Document 上传后的文档，创建后不可变
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	DocType    DocType   `json:"doc_type"`
	Text       string    `json:"text"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Chunk 简历文本的一个分块
// Start/End 为 rune 偏移，左闭右开
type Chunk struct {
	ResumeID string `json:"resume_id"`
	Filename string `json:"filename"`
	Ordinal  int    `json:"ordinal"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Text     string `json:"text"`
}

// ResumeInput 送入评估/写信阶段的完整简历
type ResumeInput struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Text     string `json:"text"`
}
