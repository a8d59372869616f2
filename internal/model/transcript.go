package model

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMeetingID 上游未提供会议ID时使用的占位值
const DefaultMeetingID = "default"

// NormalizeMeetingID 去除空白，空值回退为 DefaultMeetingID
func NormalizeMeetingID(meetingID string) string {
	meetingID = strings.TrimSpace(meetingID)
	if meetingID == "" {
		return DefaultMeetingID
	}
	return meetingID
}

// Utterance 单条转录片段，写入后不可修改（同 ID 的新片段整体替换）
type Utterance struct {
	UtteranceID   string `json:"utterance_id"`
	Speaker       string `json:"speaker"`
	Text          string `json:"text"`
	TimestampISO  string `json:"timestamp"`
	TimestampUnix int64  `json:"timestamp_unix"`
	IsFinal       bool   `json:"is_final"`
}

// TranscriptStore 单个会议的有序转录日志
type TranscriptStore struct {
	mu         sync.RWMutex
	utterances []Utterance
	index      map[string]int
	lastAppend time.Time
}

func NewTranscriptStore() *TranscriptStore {
	return &TranscriptStore{index: make(map[string]int)}
}

// Append 追加片段；若已存在相同 UtteranceID 则原位替换，保持首次插入的位置
func (s *TranscriptStore) Append(u Utterance) Utterance {
	if u.UtteranceID == "" {
		u.UtteranceID = "auto-" + uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if pos, ok := s.index[u.UtteranceID]; ok {
		s.utterances[pos] = u
	} else {
		s.index[u.UtteranceID] = len(s.utterances)
		s.utterances = append(s.utterances, u)
	}
	s.lastAppend = time.Now()
	return u
}

// Snapshot 返回调用时刻的完整副本，之后的追加不影响已取得的快照
func (s *TranscriptStore) Snapshot() []Utterance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Utterance, len(s.utterances))
	copy(out, s.utterances)
	return out
}

// Len 当前片段数
func (s *TranscriptStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.utterances)
}

// ConcatenatedText 按存储顺序用换行拼接所有文本，作为总结器输入
func (s *TranscriptStore) ConcatenatedText() string {
	return JoinTexts(s.Snapshot())
}

func (s *TranscriptStore) lastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAppend
}

// JoinTexts 用换行拼接片段文本
func JoinTexts(utterances []Utterance) string {
	texts := make([]string, len(utterances))
	for i, u := range utterances {
		texts[i] = u.Text
	}
	return strings.Join(texts, "\n")
}

// TranscriptModel 按会议ID管理转录日志
type TranscriptModel struct {
	mu     sync.Mutex
	stores map[string]*TranscriptStore
}

func NewTranscriptModel() *TranscriptModel {
	return &TranscriptModel{stores: make(map[string]*TranscriptStore)}
}

// Store 获取（必要时创建）会议的转录日志
func (m *TranscriptModel) Store(meetingID string) *TranscriptStore {
	meetingID = NormalizeMeetingID(meetingID)

	m.mu.Lock()
	defer m.mu.Unlock()

	store, ok := m.stores[meetingID]
	if !ok {
		store = NewTranscriptStore()
		m.stores[meetingID] = store
	}
	return store
}

// Append 追加片段到指定会议
func (m *TranscriptModel) Append(meetingID string, u Utterance) Utterance {
	return m.Store(meetingID).Append(u)
}

// Snapshot 获取指定会议的快照；会议不存在时返回空切片
func (m *TranscriptModel) Snapshot(meetingID string) ([]Utterance, error) {
	meetingID = NormalizeMeetingID(meetingID)

	m.mu.Lock()
	store, ok := m.stores[meetingID]
	m.mu.Unlock()

	if !ok {
		return []Utterance{}, nil
	}
	return store.Snapshot(), nil
}

// Has 会议是否已有转录
func (m *TranscriptModel) Has(meetingID string) bool {
	meetingID = NormalizeMeetingID(meetingID)

	m.mu.Lock()
	store, ok := m.stores[meetingID]
	m.mu.Unlock()
	return ok && store.Len() > 0
}

// PruneIdle 删除最后一次写入早于 cutoff 的会议转录，返回删除数量
func (m *TranscriptModel) PruneIdle(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for id, store := range m.stores {
		if store.lastActivity().Before(cutoff) {
			delete(m.stores, id)
			deleted++
		}
	}
	return deleted
}
