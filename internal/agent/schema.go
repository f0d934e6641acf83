package agent

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

const stringArray = `{"type": "array", "items": {"type": "string"}}`

var jdAnalysisSchemaJSON = `{
  "type": "object",
  "properties": {
    "role_title": {"type": "string"},
    "technical_requirements": ` + stringArray + `,
    "soft_skills": ` + stringArray + `,
    "cultural_fit_indicators": ` + stringArray + `,
    "experience_level": {"type": "string"},
    "education_requirements": ` + stringArray + `,
    "nice_to_haves": ` + stringArray + `,
    "summary": {"type": "string"}
  }
}`

var evaluationsSchemaJSON = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["resume_id"],
    "properties": {
      "resume_id": {"type": "string", "minLength": 1},
      "candidate_name": {"type": ["string", "null"]},
      "match_percentage": {"type": "number"},
      "reasoning": {"type": "string"},
      "strengths": ` + stringArray + `,
      "gap_analysis": {
        "type": "array",
        "items": {
          "oneOf": [
            {"type": "string"},
            {
              "type": "object",
              "required": ["skill"],
              "properties": {
                "skill": {"type": "string"},
                "trainable": {"type": "boolean"},
                "severity": {"type": "string"}
              }
            }
          ]
        }
      },
      "notable_projects": ` + stringArray + `,
      "shortlisted": {"type": "boolean"}
    }
  }
}`

var emailsSchemaJSON = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["resume_id", "candidate_name"],
    "properties": {
      "resume_id": {"type": "string", "minLength": 1},
      "candidate_name": {"type": "string"},
      "subject": {"type": "string"},
      "body": {"type": "string"}
    }
  }
}`

var (
	jdAnalysisSchema  = mustSchema("jd_analysis", jdAnalysisSchemaJSON)
	evaluationsSchema = mustSchema("evaluations", evaluationsSchemaJSON)
	emailsSchema      = mustSchema("emails", emailsSchemaJSON)

	validate = validator.New()
)

func mustSchema(name, content string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(content))
	if err != nil {
		panic(fmt.Sprintf("编译 JSON Schema %s 失败: %v", name, err))
	}
	return s
}

// SchemaError 模型输出不符合 JSON Schema
type SchemaError struct {
	Fields []string
}

func (e *SchemaError) Error() string {
	return "模型输出不符合 Schema: " + strings.Join(e.Fields, "; ")
}

func validateAgainst(s *gojsonschema.Schema, raw string) error {
	result, err := s.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return fmt.Errorf("校验 JSON 失败: %w", err)
	}
	if result.Valid() {
		return nil
	}
	fields := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		fields = append(fields, field+": "+desc.Description())
	}
	return &SchemaError{Fields: fields}
}
