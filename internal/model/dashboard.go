package model

import (
	"strings"
	"sync"
	"time"
)

// DashboardEntry 一次成功合成的会议看板
type DashboardEntry struct {
	MeetingID   string
	RunID       string
	Title       string
	HTML        string
	PDF         []byte // PDF 渲染失败时为空
	GeneratedAt time.Time
	expireTime  time.Time
}

// DashboardModel 按会议ID缓存最近一次看板，带过期时间；
// 另外记录最近一次写入的会议，供未指定会议ID的查询使用
type DashboardModel struct {
	mu     sync.RWMutex
	ttl    time.Duration
	items  map[string]*DashboardEntry
	latest string
	now    func() time.Time
}

func NewDashboardModel(ttl time.Duration) *DashboardModel {
	return &DashboardModel{
		ttl:   ttl,
		items: make(map[string]*DashboardEntry),
		now:   time.Now,
	}
}

// Put 写入（覆盖）会议看板
func (m *DashboardModel) Put(entry DashboardEntry) {
	entry.MeetingID = NormalizeMeetingID(entry.MeetingID)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry.expireTime = m.now().Add(m.ttl)
	m.items[entry.MeetingID] = &entry
	m.latest = entry.MeetingID
}

// Get meetingID 为空时返回最近一次写入的看板；不存在或已过期时返回 false
func (m *DashboardModel) Get(meetingID string) (DashboardEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if strings.TrimSpace(meetingID) == "" {
		meetingID = m.latest
	} else {
		meetingID = NormalizeMeetingID(meetingID)
	}

	entry, ok := m.items[meetingID]
	if !ok || m.now().After(entry.expireTime) {
		return DashboardEntry{}, false
	}
	return *entry, true
}

// AttachPDF 为指定运行生成的看板补充 PDF；看板已被其他运行覆盖或已过期时返回 false
func (m *DashboardModel) AttachPDF(meetingID, runID string, pdf []byte) bool {
	meetingID = NormalizeMeetingID(meetingID)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.items[meetingID]
	if !ok || entry.RunID != runID || m.now().After(entry.expireTime) {
		return false
	}
	entry.PDF = pdf
	return true
}

// EvictExpired 删除过期看板，返回删除数量
func (m *DashboardModel) EvictExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for id, entry := range m.items {
		if now.After(entry.expireTime) {
			delete(m.items, id)
			evicted++
		}
	}
	if _, ok := m.items[m.latest]; !ok {
		m.latest = ""
	}
	return evicted
}

// Len 当前缓存数量
func (m *DashboardModel) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
