package model

import (
	"strings"
	"sync"
)

// ParticipantModel 会议ID -> 收件人集合（邮箱或显示名）
// 三个来源（webhook 入会事件、显式注册、结束会议时提交）只增不减
type ParticipantModel struct {
	mu       sync.Mutex
	byID     map[string][]string
	defaults []string
}

func NewParticipantModel(defaults []string) *ParticipantModel {
	return &ParticipantModel{
		byID:     make(map[string][]string),
		defaults: dedupe(nil, defaults),
	}
}

// AddEmails 去空白、过滤空值、与已有集合去重后追加，返回更新后的集合副本
func (m *ParticipantModel) AddEmails(meetingID string, emails []string) []string {
	meetingID = NormalizeMeetingID(meetingID)

	m.mu.Lock()
	defer m.mu.Unlock()

	merged := dedupe(m.byID[meetingID], emails)
	m.byID[meetingID] = merged
	return append([]string(nil), merged...)
}

// List 返回已登记的集合副本
func (m *ParticipantModel) List(meetingID string) []string {
	meetingID = NormalizeMeetingID(meetingID)

	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.byID[meetingID]...)
}

// Resolve 解析最终收件人：触发载荷中的参会人与已登记集合的并集；
// 两者都为空时回退到配置的默认列表。结果可能为空，表示跳过邮件
func (m *ParticipantModel) Resolve(meetingID string, payload []string) []string {
	resolved := dedupe(nil, payload)
	resolved = dedupe(resolved, m.List(meetingID))
	if len(resolved) > 0 {
		return resolved
	}
	return append([]string{}, m.defaults...)
}

// dedupe 将 add 中的有效条目按顺序合并进 existing
func dedupe(existing, add []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, e := range existing {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	for _, e := range add {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
