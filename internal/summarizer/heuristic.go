package summarizer

import (
	"context"
	"regexp"
	"strings"
)

const maxHeuristicTaskLength = 160

var (
	actionRe = regexp.MustCompile(`(?i)\b(please|can you|assign|we will|let's|by\s+\w+day|ETA|due)\b`)
	ownerRe  = regexp.MustCompile(`\b([A-Z][a-z]+)\b(?:\s+will|\s+to)`)
	dueRe    = regexp.MustCompile(`(?i)\bby\s+(monday|tuesday|wednesday|thursday|friday|tomorrow|EOD|next week)\b`)

	sentenceSplitRe = regexp.MustCompile(`\.\s+|\n+`)

	noteKeywords = []string{
		"decide", "decided", "agree", "agreed", "plan", "deadline", "launch", "release",
		"budget", "issue", "risk", "blocker", "priority", "goal", "update", "review",
		"important", "next step", "follow up", "milestone",
	}
	decisionKeywords = []string{"decided", "agreed", "approved", "decision", "finalized", "conclude"}
	discussKeywords  = []string{"discuss", "review", "update", "proposal", "concern", "question"}
)

// HeuristicBackend 基于关键词与正则的本地总结实现，不依赖外部服务
type HeuristicBackend struct{}

func NewHeuristicBackend() *HeuristicBackend {
	return &HeuristicBackend{}
}

// TakeNotes 挑出包含关键信息词的句子
func (b *HeuristicBackend) TakeNotes(ctx context.Context, transcript string) (Raw, error) {
	notes := make([]string, 0)
	for _, sentence := range sentences(transcript) {
		if containsAny(sentence, noteKeywords) {
			notes = append(notes, sentence)
		}
	}
	return Raw{Lines: notes}, ctx.Err()
}

// GenerateMinutes 按决议、行动项、讨论归类
func (b *HeuristicBackend) GenerateMinutes(ctx context.Context, transcript string) (Raw, error) {
	minutes := make([]string, 0)
	for _, sentence := range sentences(transcript) {
		switch {
		case containsAny(sentence, decisionKeywords):
			minutes = append(minutes, "Decision: "+sentence)
		case actionRe.MatchString(sentence):
			minutes = append(minutes, "Action: "+sentence)
		case containsAny(sentence, discussKeywords):
			minutes = append(minutes, "Discussion: "+sentence)
		}
	}
	return Raw{Lines: minutes}, ctx.Err()
}

// ExtractTasks 逐行匹配行动意图，推断负责人与截止时间
func (b *HeuristicBackend) ExtractTasks(ctx context.Context, transcript string) (Raw, error) {
	tasks := make([]TaskRecord, 0)
	for _, line := range splitNonEmpty(transcript) {
		if !actionRe.MatchString(line) {
			continue
		}

		task := TaskRecord{
			Task:       truncate(line, maxHeuristicTaskLength),
			AssignedTo: Unassigned,
			SourceLine: line,
			Labels:     []string{},
		}
		if m := ownerRe.FindStringSubmatch(line); m != nil {
			task.AssignedTo = m[1]
		}
		if m := dueRe.FindStringSubmatch(line); m != nil {
			task.Deadline = m[1]
		}
		tasks = append(tasks, task)
	}
	return Raw{Tasks: tasks}, ctx.Err()
}

func sentences(text string) []string {
	parts := sentenceSplitRe.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
