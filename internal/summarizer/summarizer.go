package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fachebot/meeting-dashboard/internal/logger"
	"github.com/fachebot/meeting-dashboard/internal/sanitizer"
)

// Service 包装外部总结能力：每次调用都带超时，任何失败都降级为固定内容，
// 一个总结器失败不影响其他总结器
type Service struct {
	backend Backend
	timeout time.Duration
}

func NewService(backend Backend, timeout time.Duration) *Service {
	return &Service{backend: backend, timeout: timeout}
}

// Notes 会议笔记，失败时返回 [NotesUnavailable]
func (s *Service) Notes(ctx context.Context, transcript string) Output {
	raw, err := s.call(ctx, "notes", s.backend.TakeNotes, transcript)
	if err != nil {
		logger.Errorf("[Summarizer] 生成笔记失败: %v", err)
		return failure([]string{NotesUnavailable}, err)
	}
	return Output{Kind: KindTextLines, Lines: normalizeLines(raw, "notes"), Tasks: []TaskRecord{}}
}

// Minutes 会议纪要，失败时返回 [MinutesUnavailable]，结果为空时返回 [NoMinutes]
func (s *Service) Minutes(ctx context.Context, transcript string) Output {
	raw, err := s.call(ctx, "minutes", s.backend.GenerateMinutes, transcript)
	if err != nil {
		logger.Errorf("[Summarizer] 生成会议纪要失败: %v", err)
		return failure([]string{MinutesUnavailable}, err)
	}

	lines := normalizeLines(raw, "mom", "minutes")
	if len(lines) == 0 {
		lines = []string{NoMinutes}
	}
	return Output{Kind: KindTextLines, Lines: lines, Tasks: []TaskRecord{}}
}

// Tasks 行动项，失败时返回空列表
func (s *Service) Tasks(ctx context.Context, transcript string) Output {
	raw, err := s.call(ctx, "tasks", s.backend.ExtractTasks, transcript)
	if err != nil {
		logger.Errorf("[Summarizer] 提取任务失败: %v", err)
		return failure([]string{}, err)
	}
	return Output{Kind: KindTaskRecords, Lines: []string{}, Tasks: normalizeTasks(raw)}
}

func failure(lines []string, err error) Output {
	return Output{Kind: KindRawFailure, Lines: lines, Tasks: []TaskRecord{}, Err: err}
}

type backendFunc func(ctx context.Context, transcript string) (Raw, error)

type callResult struct {
	raw Raw
	err error
}

// call 在独立 goroutine 中执行后端调用，超时或 panic 都按普通错误处理
func (s *Service) call(ctx context.Context, name string, fn backendFunc, transcript string) (Raw, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ch := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- callResult{err: fmt.Errorf("%s 后端 panic: %v", name, r)}
			}
		}()
		raw, err := fn(ctx, transcript)
		ch <- callResult{raw: raw, err: err}
	}()

	select {
	case <-ctx.Done():
		return Raw{}, fmt.Errorf("%s 调用超时或被取消: %w", name, ctx.Err())
	case res := <-ch:
		return res.raw, res.err
	}
}

// normalizeLines 将后端结果规整为清洗后的有序行；keys 为 JSON 包裹对象中可能的字段名
func normalizeLines(raw Raw, keys ...string) []string {
	if raw.Lines != nil {
		return sanitizeAll(toAny(raw.Lines))
	}
	if len(raw.Tasks) > 0 {
		lines := make([]string, 0, len(raw.Tasks))
		for _, t := range raw.Tasks {
			lines = append(lines, t.Task)
		}
		return sanitizeAll(toAny(lines))
	}

	text := sanitizer.StripCodeFence(raw.Text)
	if text == "" {
		return []string{}
	}
	if items, ok := decodeList(text, keys...); ok {
		return sanitizeAll(items)
	}

	// 含 JSON 分片时整体清洗，否则逐行清洗以保留分行
	if strings.Contains(text, "{") {
		return splitNonEmpty(sanitizer.Sanitize(text))
	}
	return sanitizeAll(toAny(splitNonEmpty(text)))
}

// decodeList 识别 [...]、{"<key>": [...]} 与 {"<key>": "..."} 三种形态
func decodeList(text string, keys ...string) ([]any, bool) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}

	switch val := v.(type) {
	case []any:
		return val, true
	case map[string]any:
		for _, key := range keys {
			switch field := val[key].(type) {
			case []any:
				return field, true
			case string:
				return toAny(splitNonEmpty(field)), true
			}
		}
	}
	return nil, false
}

func sanitizeAll(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := sanitizer.Sanitize(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toAny(lines []string) []any {
	out := make([]any, len(lines))
	for i, l := range lines {
		out[i] = l
	}
	return out
}

func splitNonEmpty(text string) []string {
	parts := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// taskJSON 兼容模型输出中常见的字段别名
type taskJSON struct {
	Task         string   `json:"task"`
	Title        string   `json:"title"`
	AssignedTo   string   `json:"assigned_to"`
	Owner        string   `json:"owner"`
	Deadline     string   `json:"deadline"`
	DueDate      string   `json:"due_date"`
	Labels       []string `json:"labels"`
	SourceLine   string   `json:"source_line"`
	OriginalLine string   `json:"original_line"`
}

func (t taskJSON) record() TaskRecord {
	return TaskRecord{
		Task:       firstNonEmpty(t.Task, t.Title),
		AssignedTo: firstNonEmpty(t.AssignedTo, t.Owner),
		Deadline:   firstNonEmpty(t.Deadline, t.DueDate),
		Labels:     t.Labels,
		SourceLine: firstNonEmpty(t.SourceLine, t.OriginalLine),
	}
}

func normalizeTasks(raw Raw) []TaskRecord {
	switch {
	case raw.Tasks != nil:
		return NormalizeRecords(raw.Tasks)
	case raw.Lines != nil:
		records := make([]TaskRecord, 0, len(raw.Lines))
		for _, l := range raw.Lines {
			records = append(records, TaskRecord{Task: sanitizer.Sanitize(l), SourceLine: l})
		}
		return NormalizeRecords(records)
	}

	text := sanitizer.StripCodeFence(raw.Text)
	if strings.TrimSpace(text) == "" {
		return []TaskRecord{}
	}
	if records, ok := parseTasks(text); ok {
		return NormalizeRecords(records)
	}

	cleaned := sanitizer.Sanitize(text)
	if records, ok := parseTasks(cleaned); ok {
		return NormalizeRecords(records)
	}
	if cleaned == "" {
		return []TaskRecord{}
	}

	logger.Warnf("[Summarizer] 任务输出无法解析为 JSON，使用兜底任务")
	return NormalizeRecords([]TaskRecord{{
		Task:         truncate(cleaned, fallbackTaskLength),
		AssignedTo:   Unassigned,
		FallbackText: cleaned,
	}})
}

// parseTasks 严格解析 [...] 或 {"tasks": [...]}
func parseTasks(text string) ([]TaskRecord, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		var wrapped struct {
			Tasks []json.RawMessage `json:"tasks"`
		}
		if err := json.Unmarshal([]byte(text), &wrapped); err != nil || wrapped.Tasks == nil {
			return nil, false
		}
		items = wrapped.Tasks
	}

	records := make([]TaskRecord, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			records = append(records, TaskRecord{Task: s})
			continue
		}
		var t taskJSON
		if err := json.Unmarshal(item, &t); err != nil {
			continue
		}
		records = append(records, t.record())
	}
	return records, true
}

// NormalizeRecords 填充默认值并丢弃空任务
func NormalizeRecords(records []TaskRecord) []TaskRecord {
	out := make([]TaskRecord, 0, len(records))
	for _, r := range records {
		r.Task = strings.TrimSpace(r.Task)
		if r.Task == "" {
			continue
		}
		r.AssignedTo = strings.TrimSpace(r.AssignedTo)
		if r.AssignedTo == "" {
			r.AssignedTo = Unassigned
		}
		r.Deadline = strings.TrimSpace(r.Deadline)
		if r.Labels == nil {
			r.Labels = []string{}
		}
		out = append(out, r)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
