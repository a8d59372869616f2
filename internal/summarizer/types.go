package summarizer

import "context"

// 各总结器失败时的降级内容
const (
	NotesUnavailable   = "Notes unavailable due to AI error."
	MinutesUnavailable = "MoM unavailable due to AI error."
	NoMinutes          = "No MoM available"
	Unassigned         = "Unassigned"

	// fallbackTaskLength 无法解析任务时，兜底任务文本的最大长度
	fallbackTaskLength = 500
)

// TaskRecord 单个行动项
type TaskRecord struct {
	Task       string   `json:"task"`
	AssignedTo string   `json:"assigned_to"`
	Deadline   string   `json:"deadline"`
	Labels     []string `json:"labels"`
	SourceLine string   `json:"source_line,omitempty"`
	// FallbackText 模型输出无法解析为任务列表时保存完整的清洗后文本
	FallbackText string `json:"fallback_text,omitempty"`
}

// Raw 后端返回的原始结果，通常只设置其中一个字段
type Raw struct {
	Text  string       // 模型自由文本，可能是 JSON、NDJSON 或纯文本
	Lines []string     // 已分行的结果
	Tasks []TaskRecord // 已结构化的任务
}

// Backend 外部文本总结能力
type Backend interface {
	TakeNotes(ctx context.Context, transcript string) (Raw, error)
	GenerateMinutes(ctx context.Context, transcript string) (Raw, error)
	ExtractTasks(ctx context.Context, transcript string) (Raw, error)
}

// Kind 适配器输出的变体标签
type Kind int

const (
	KindTextLines Kind = iota
	KindTaskRecords
	KindRawFailure
)

func (k Kind) String() string {
	switch k {
	case KindTextLines:
		return "text_lines"
	case KindTaskRecords:
		return "task_records"
	case KindRawFailure:
		return "raw_failure"
	default:
		return "unknown"
	}
}

// Output 适配器的统一输出，Lines 与 Tasks 永远不为 nil
type Output struct {
	Kind  Kind
	Lines []string
	Tasks []TaskRecord
	Err   error // 仅 KindRawFailure 时非空
}

// Failed 是否为降级结果
func (o Output) Failed() bool {
	return o.Kind == KindRawFailure
}

// ActionItems 任务文本列表
func (o Output) ActionItems() []string {
	items := make([]string, 0, len(o.Tasks))
	for _, t := range o.Tasks {
		if t.Task != "" {
			items = append(items, t.Task)
		}
	}
	return items
}
