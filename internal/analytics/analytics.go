// Package analytics 从转录快照计算会议统计，纯函数、结果确定
package analytics

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fachebot/meeting-dashboard/internal/model"
)

// UnknownSpeaker 缺少说话人时使用的名称
const UnknownSpeaker = "Unknown"

// SpeakerCount 单个说话人的发言次数
type SpeakerCount struct {
	Speaker string `json:"speaker"`
	Count   int    `json:"count"`
}

// Snapshot 会议统计
type Snapshot struct {
	ParticipantCount int            `json:"participantCount"`
	MessageCount     int            `json:"messageCount"`
	DurationMinutes  int            `json:"durationMinutes"`
	TopSpeaker       string         `json:"topSpeaker"`
	PerSpeaker       []SpeakerCount `json:"perSpeakerCounts"` // 按首次出现顺序
	// Approximate 至少一个片段的时间戳无法解析、使用了当前时间
	Approximate bool `json:"approximate"`
}

// SpeakerName 规范化说话人名称
func SpeakerName(u model.Utterance) string {
	if s := strings.TrimSpace(u.Speaker); s != "" {
		return s
	}
	return UnknownSpeaker
}

// isoLayouts 依次尝试的时间格式，不带时区的按 UTC 处理
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// 毫秒时间戳的有效范围，超出后 time.UnixMilli 会溢出
const (
	minUnixMilli = -(1 << 62) / int64(time.Millisecond)
	maxUnixMilli = (1 << 62) / int64(time.Millisecond)
)

// ParseISO 解析 ISO 风格的时间字符串
func ParseISO(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseMilli(s string) (time.Time, bool) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < minUnixMilli || ms > maxUnixMilli {
			return time.Time{}, false
		}
		return time.UnixMilli(ms), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f < float64(minUnixMilli) || f > float64(maxUnixMilli) {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(f)), true
}

// ResolveTimestamp 依次尝试 ISO 时间、毫秒数字字符串、Unix 秒，都失败时返回 now；
// 第二个返回值表示是否回退到了 now
func ResolveTimestamp(u model.Utterance, now time.Time) (time.Time, bool) {
	iso := strings.TrimSpace(u.TimestampISO)
	if iso != "" {
		if t, ok := ParseISO(iso); ok {
			return t, false
		}
		if t, ok := parseMilli(iso); ok {
			return t, false
		}
	}
	if u.TimestampUnix > 0 {
		return time.Unix(u.TimestampUnix, 0), false
	}
	return now, true
}

// Compute 计算统计；空输入返回全零快照
func Compute(utterances []model.Utterance, now time.Time) Snapshot {
	snap := Snapshot{PerSpeaker: []SpeakerCount{}}
	if len(utterances) == 0 {
		return snap
	}

	index := make(map[string]int)
	var minTs, maxTs time.Time
	for i, u := range utterances {
		speaker := SpeakerName(u)
		if pos, ok := index[speaker]; ok {
			snap.PerSpeaker[pos].Count++
		} else {
			index[speaker] = len(snap.PerSpeaker)
			snap.PerSpeaker = append(snap.PerSpeaker, SpeakerCount{Speaker: speaker, Count: 1})
		}

		ts, approximate := ResolveTimestamp(u, now)
		if approximate {
			snap.Approximate = true
		}
		if i == 0 || ts.Before(minTs) {
			minTs = ts
		}
		if i == 0 || ts.After(maxTs) {
			maxTs = ts
		}
	}

	snap.MessageCount = len(utterances)
	snap.ParticipantCount = len(snap.PerSpeaker)
	snap.DurationMinutes = int(math.Round(maxTs.Sub(minTs).Minutes()))

	// 严格大于，平票时保留先出现的说话人
	top := snap.PerSpeaker[0]
	for _, sc := range snap.PerSpeaker[1:] {
		if sc.Count > top.Count {
			top = sc
		}
	}
	snap.TopSpeaker = top.Speaker
	return snap
}

// Counts 以 map 形式返回各说话人发言次数
func (s Snapshot) Counts() map[string]int {
	out := make(map[string]int, len(s.PerSpeaker))
	for _, sc := range s.PerSpeaker {
		out[sc.Speaker] = sc.Count
	}
	return out
}
