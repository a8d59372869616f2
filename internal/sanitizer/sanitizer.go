// Package sanitizer 将模型的原始输出（纯文本、单个 JSON、流式 NDJSON 分片、数组等）
// 规整为干净的可读字符串。任何输入都不会导致 panic。
package sanitizer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	responseFieldRe = regexp.MustCompile(`"response"\s*:\s*"([^"]*)"`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
	lineBreakRe     = regexp.MustCompile(`\r?\n`)
)

// Sanitize 按优先级依次应用以下规则，首个适用的规则生效：
//  1. 非字符串输入先序列化为 JSON（失败则 fmt.Sprint）
//  2. 存在携带 response 字段的 JSON 行时，拼接所有 response 值（流式分片重组）
//  3. 丢弃看起来是元数据的 JSON 行（含 model 或 done 字段），其余行以空格拼接
//  4. 折叠原始输入中的所有空白
func Sanitize(raw any) string {
	text, ok := toText(raw)
	if !ok {
		return text
	}

	lines := splitLines(text)

	if collected := collectResponses(lines); strings.TrimSpace(collected) != "" {
		return CollapseWhitespace(collected)
	}

	filtered := make([]string, 0, len(lines))
	for _, ln := range lines {
		if isMetadataLine(ln) {
			continue
		}
		filtered = append(filtered, ln)
	}
	if len(filtered) > 0 {
		return CollapseWhitespace(strings.Join(filtered, " "))
	}

	return CollapseWhitespace(text)
}

// toText 返回待处理文本；第二个返回值为 false 时调用方应直接使用第一个返回值
func toText(raw any) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprint(raw), false
	}
	return string(data), false
}

func splitLines(text string) []string {
	parts := lineBreakRe.Split(text, -1)
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			lines = append(lines, p)
		}
	}
	return lines
}

func looksLikeResponseChunk(line string) bool {
	return strings.HasPrefix(line, "{") && strings.Contains(line, `"response"`)
}

func isMetadataLine(line string) bool {
	return strings.HasPrefix(line, "{") &&
		(strings.Contains(line, `"model"`) || strings.Contains(line, `"done"`))
}

// collectResponses 重组流式输出中的 response 字段
func collectResponses(lines []string) string {
	hasChunk := false
	for _, ln := range lines {
		if looksLikeResponseChunk(ln) {
			hasChunk = true
			break
		}
	}
	if !hasChunk {
		return ""
	}

	var sb strings.Builder
	for _, ln := range lines {
		if strings.HasPrefix(ln, "{") && strings.HasSuffix(ln, "}") {
			var chunk map[string]any
			if err := json.Unmarshal([]byte(ln), &chunk); err == nil {
				if s, ok := chunk["response"].(string); ok {
					sb.WriteString(s)
					continue
				}
			} else {
				// 截断或转义异常的 JSON，退化为正则提取
				if m := responseFieldRe.FindStringSubmatch(ln); m != nil {
					sb.WriteString(m[1])
				}
				continue
			}
		}
		if m := responseFieldRe.FindStringSubmatch(ln); m != nil {
			sb.WriteString(m[1])
		}
	}
	return sb.String()
}

// CollapseWhitespace 将连续空白折叠为单个空格并去除首尾空白
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// StripCodeFence 去除 ```json ... ``` 包裹
func StripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	if idx := strings.LastIndex(content, "```"); idx != -1 {
		content = content[:idx]
	}
	return strings.TrimSpace(content)
}
