package model

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptStore_ReplaceInPlace(t *testing.T) {
	s := NewTranscriptStore()
	s.Append(Utterance{UtteranceID: "u1", Speaker: "A", Text: "hel"})
	s.Append(Utterance{UtteranceID: "u2", Speaker: "B", Text: "hi"})
	s.Append(Utterance{UtteranceID: "u1", Speaker: "A", Text: "hello", IsFinal: true})

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "u1", snap[0].UtteranceID)
	assert.Equal(t, "hello", snap[0].Text)
	assert.True(t, snap[0].IsFinal)
	assert.Equal(t, "u2", snap[1].UtteranceID)
	assert.Equal(t, "hello\nhi", s.ConcatenatedText())
}

func TestTranscriptStore_AutoID(t *testing.T) {
	s := NewTranscriptStore()
	a := s.Append(Utterance{Text: "one"})
	b := s.Append(Utterance{Text: "two"})

	assert.NotEmpty(t, a.UtteranceID)
	assert.NotEqual(t, a.UtteranceID, b.UtteranceID)
	assert.Equal(t, 2, s.Len())
}

func TestTranscriptStore_SnapshotIsolation(t *testing.T) {
	s := NewTranscriptStore()
	s.Append(Utterance{UtteranceID: "u1", Text: "first"})

	snap := s.Snapshot()
	s.Append(Utterance{UtteranceID: "u2", Text: "late"})
	s.Append(Utterance{UtteranceID: "u1", Text: "changed"})

	require.Len(t, snap, 1)
	assert.Equal(t, "first", snap[0].Text)

	snap[0].Text = "mutated"
	assert.Equal(t, "changed", s.Snapshot()[0].Text)
}

func TestTranscriptStore_ConcurrentAppend(t *testing.T) {
	s := NewTranscriptStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Append(Utterance{UtteranceID: fmt.Sprintf("u%d", i), Text: "x"})
			_ = s.Snapshot()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}

func TestTranscriptModel(t *testing.T) {
	m := NewTranscriptModel()

	snap, err := m.Snapshot("missing")
	assert.NoError(t, err)
	assert.Empty(t, snap)
	assert.False(t, m.Has("missing"))

	m.Append("", Utterance{UtteranceID: "a", Text: "default meeting"})
	m.Append("m1", Utterance{UtteranceID: "b", Text: "meeting one"})

	def, _ := m.Snapshot(DefaultMeetingID)
	assert.Len(t, def, 1)
	assert.True(t, m.Has("m1"))

	assert.Equal(t, 0, m.PruneIdle(time.Now().Add(-time.Hour)))
	assert.Equal(t, 2, m.PruneIdle(time.Now().Add(time.Second)))
	assert.False(t, m.Has("m1"))
}

func TestParticipantModel_AddEmails(t *testing.T) {
	m := NewParticipantModel(nil)

	got := m.AddEmails("m1", []string{" a@example.com ", "", "b@example.com", "a@example.com"})
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, got)

	got = m.AddEmails("m1", []string{"b@example.com", "c@example.com"})
	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, got)

	assert.Empty(t, m.List("other"))
}

func TestParticipantModel_Resolve(t *testing.T) {
	tests := []struct {
		name       string
		defaults   []string
		registered []string
		payload    []string
		want       []string
	}{
		{"全部为空", nil, nil, nil, []string{}},
		{"仅默认列表", []string{"d@example.com"}, nil, nil, []string{"d@example.com"}},
		{"登记集合优先于默认", []string{"d@example.com"}, []string{"r@example.com"}, nil, []string{"r@example.com"}},
		{"载荷与登记集合取并集", nil, []string{"r@example.com", "p@example.com"}, []string{"p@example.com", " x@example.com"}, []string{"p@example.com", "x@example.com", "r@example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewParticipantModel(tt.defaults)
			if len(tt.registered) > 0 {
				m.AddEmails("m1", tt.registered)
			}
			assert.Equal(t, tt.want, m.Resolve("m1", tt.payload))
		})
	}
}

func TestParticipantModel_ThreeSourcesUnion(t *testing.T) {
	m := NewParticipantModel([]string{"fallback@example.com"})

	// webhook 入会事件
	m.AddEmails("m1", []string{"joined@example.com"})
	// 显式注册（含重复提交）
	m.AddEmails("m1", []string{"posted@example.com", "joined@example.com"})
	m.AddEmails("m1", []string{"posted@example.com"})
	// 触发载荷
	got := m.Resolve("m1", []string{"trigger@example.com", "posted@example.com"})

	assert.ElementsMatch(t, []string{"joined@example.com", "posted@example.com", "trigger@example.com"}, got)
}

func TestDashboardModel(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewDashboardModel(time.Hour)
	m.now = func() time.Time { return now }

	_, ok := m.Get("")
	assert.False(t, ok, "尚未生成看板")

	m.Put(DashboardEntry{MeetingID: "m1", HTML: "<p>one</p>"})
	m.Put(DashboardEntry{MeetingID: "m2", HTML: "<p>two</p>"})

	latest, ok := m.Get("")
	require.True(t, ok)
	assert.Equal(t, "m2", latest.MeetingID)

	one, ok := m.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "<p>one</p>", one.HTML)

	// 覆盖同一会议不影响其他会议
	m.Put(DashboardEntry{MeetingID: "m1", HTML: "<p>one v2</p>"})
	two, _ := m.Get("m2")
	assert.Equal(t, "<p>two</p>", two.HTML)

	now = now.Add(2 * time.Hour)
	_, ok = m.Get("m1")
	assert.False(t, ok, "过期后不可见")
	assert.Equal(t, 2, m.EvictExpired())
	assert.Equal(t, 0, m.Len())
	_, ok = m.Get("")
	assert.False(t, ok)
}

func TestDashboardModel_DefaultMeeting(t *testing.T) {
	m := NewDashboardModel(time.Hour)
	m.Put(DashboardEntry{HTML: "x"})

	entry, ok := m.Get(DefaultMeetingID)
	require.True(t, ok)
	assert.Equal(t, DefaultMeetingID, entry.MeetingID)
}

func TestDashboardModel_AttachPDF(t *testing.T) {
	m := NewDashboardModel(time.Hour)
	m.Put(DashboardEntry{MeetingID: "m1", RunID: "run-1", HTML: "x"})

	assert.True(t, m.AttachPDF("m1", "run-1", []byte("%PDF")))
	entry, _ := m.Get("m1")
	assert.Equal(t, []byte("%PDF"), entry.PDF)

	// 已被新的运行覆盖时不写入
	m.Put(DashboardEntry{MeetingID: "m1", RunID: "run-2", HTML: "y"})
	assert.False(t, m.AttachPDF("m1", "run-1", []byte("old")))
	entry, _ = m.Get("m1")
	assert.Empty(t, entry.PDF)

	assert.False(t, m.AttachPDF("missing", "run-1", []byte("x")))
}
