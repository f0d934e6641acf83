package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CleanJSONBlock 去掉模型常带的 ```json ... ``` 代码块
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	// 第一行可能是语言标识
	if idx := strings.Index(text, "\n"); idx >= 0 {
		first := strings.TrimSpace(text[:idx])
		if len(first) < 20 && !strings.ContainsAny(first, " {[") {
			text = text[idx+1:]
		}
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// ExtractJSON 去掉代码块后取出最外层的 JSON 对象或数组，并确认其语法合法。
// 模型在 JSON 前后附带说明文字时也能取出
func ExtractJSON(text string, wantArray bool) (string, error) {
	cleaned := CleanJSONBlock(text)
	open, closing := byte('{'), byte('}')
	if wantArray {
		open, closing = '[', ']'
	}

	start := strings.IndexByte(cleaned, open)
	end := strings.LastIndexByte(cleaned, closing)
	if start < 0 || end < start {
		kind := "对象"
		if wantArray {
			kind = "数组"
		}
		return "", fmt.Errorf("模型输出中没有 JSON %s: %s", kind, preview(cleaned))
	}

	candidate := cleaned[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", fmt.Errorf("模型输出不是合法的 JSON: %s", preview(candidate))
	}
	return candidate, nil
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 200 {
		return string(r[:200]) + "..."
	}
	return s
}
