// Package ingest 解析会议转录 webhook：参会人事件、会议结束事件与转录片段
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fachebot/meeting-dashboard/internal/analytics"
	"github.com/fachebot/meeting-dashboard/internal/finalizer"
	"github.com/fachebot/meeting-dashboard/internal/logger"
	"github.com/fachebot/meeting-dashboard/internal/metrics"
	"github.com/fachebot/meeting-dashboard/internal/model"
)

// Kind webhook 事件分类
type Kind string

const (
	KindParticipant  Kind = "participant"
	KindMeetingEnded Kind = "meeting_ended"
	KindTranscript   Kind = "transcript"
	KindUnknown      Kind = "unknown"
	KindInvalid      Kind = "invalid"
)

var (
	participantEvents = map[string]struct{}{
		"meeting.participant_joined": {},
		"meeting.participant_left":   {},
		"participant.joined":         {},
		"participant.left":           {},
	}
	endEvents = map[string]struct{}{
		"bot.left_call":  {},
		"recording.done": {},
		"meeting.ended":  {},
	}
	transcriptEvents = map[string]struct{}{
		"transcript.data": {},
		"transcript":      {},
	}
)

// Classify 按事件名称分类
func Classify(event string) Kind {
	if _, ok := participantEvents[event]; ok {
		return KindParticipant
	}
	if _, ok := endEvents[event]; ok {
		return KindMeetingEnded
	}
	if _, ok := transcriptEvents[event]; ok {
		return KindTranscript
	}
	return KindUnknown
}

// Finalizer 会议结束时触发的流程
type Finalizer interface {
	Finalize(ctx context.Context, req finalizer.Request) *finalizer.Result
}

// Event 一次 webhook 的处理结果
type Event struct {
	Kind      Kind
	Name      string
	MeetingID string
	Stored    *model.Utterance // 仅转录事件且成功写入时非空
}

type Processor struct {
	transcripts  *model.TranscriptModel
	participants *model.ParticipantModel
	finalizer    Finalizer
	metrics      *metrics.Metrics
	now          func() time.Time
	wg           sync.WaitGroup
}

func NewProcessor(transcripts *model.TranscriptModel, participants *model.ParticipantModel, f Finalizer, m *metrics.Metrics) *Processor {
	return &Processor{
		transcripts:  transcripts,
		participants: participants,
		finalizer:    f,
		metrics:      m,
		now:          time.Now,
	}
}

// Dispatch 异步处理一次 webhook，调用方无需等待处理结果
func (p *Processor) Dispatch(ctx context.Context, raw []byte) {
	ctx = context.WithoutCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Handle(ctx, raw)
	}()
}

// Wait 等待所有异步处理与已触发的结束流程完成
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Handle 同步处理一次 webhook。任何解析错误都只记录日志
func (p *Processor) Handle(ctx context.Context, raw []byte) (event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Webhook] 处理事件异常: %v", r)
			event.Kind = KindInvalid
		}
		p.metrics.WebhookEventsTotal.WithLabelValues(string(event.Kind)).Inc()
	}()

	pl, err := decode(raw)
	if err != nil {
		logger.Warnf("[Webhook] 解析载荷失败: %v", err)
		return Event{Kind: KindInvalid}
	}

	name := pl.eventName()
	event = Event{
		Kind:      Classify(name),
		Name:      name,
		MeetingID: model.NormalizeMeetingID(pl.meetingID()),
	}

	switch event.Kind {
	case KindParticipant:
		p.handleParticipant(pl, event)
	case KindMeetingEnded:
		p.handleMeetingEnded(ctx, pl, event)
	case KindTranscript:
		event.Stored = p.handleTranscript(pl, event)
	default:
		logger.Debugf("[Webhook] 忽略未处理的事件类型: %q", name)
	}
	return event
}

func decode(raw []byte) (*payload, error) {
	root, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("载荷不是 JSON 对象")
	}

	pl := &payload{root: root}
	if pl.data, err = decodeObject(root.Data); err != nil {
		logger.Warnf("[Webhook] 解析 data 字段失败: %v", err)
		pl.data = nil
	}
	if pl.data != nil {
		if pl.inner, err = decodeObject(pl.data.Data); err != nil {
			logger.Warnf("[Webhook] 解析 data.data 字段失败: %v", err)
			pl.inner = nil
		}
	}
	return pl, nil
}

func (p *Processor) handleParticipant(pl *payload, event Event) {
	identity := pl.participant().Identity()
	if identity == "" {
		logger.Debugf("[Webhook] 参会人事件缺少参会人信息: %s", event.Name)
		return
	}

	list := p.participants.AddEmails(event.MeetingID, []string{identity})
	logger.Infof("[Webhook] 会议 %s 参会人已更新, 共 %d 人", event.MeetingID, len(list))
}

func (p *Processor) handleMeetingEnded(ctx context.Context, pl *payload, event Event) {
	if p.finalizer == nil {
		return
	}

	req := finalizer.Request{
		MeetingID:    event.MeetingID,
		Title:        pl.title(),
		Participants: pl.participants(),
	}
	logger.Infof("[Webhook] 收到会议结束信号 %s, 开始结束会议流程: %s", event.Name, event.MeetingID)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		res := p.finalizer.Finalize(ctx, req)
		if !res.Success {
			logger.Errorf("[Webhook] 会议 %s 结束流程失败: %s", req.MeetingID, res.Error)
		}
	}()
}

func (p *Processor) handleTranscript(pl *payload, event Event) *model.Utterance {
	d := pl.transcriptBody()

	words := d.Words
	if len(words) == 0 {
		words = d.Segments
	}
	if len(words) == 0 {
		logger.Debugf("[Webhook] 转录事件没有 words/segments，忽略")
		return nil
	}

	parts := make([]string, 0, len(words))
	for _, w := range words {
		if t := strings.TrimSpace(w.Text); t != "" {
			parts = append(parts, t)
		}
	}
	text := strings.Join(parts, " ")
	if text == "" {
		logger.Debugf("[Webhook] 转录文本为空，忽略")
		return nil
	}

	now := p.now()
	timestamp := string(words[0].StartTimestamp)
	ts, ok := analytics.ParseISO(timestamp)
	if !ok {
		timestamp = now.UTC().Format(time.RFC3339Nano)
		ts = now
	}

	speaker := firstNonEmpty(d.Participant.SpeakerName(), d.Speaker.String(), analytics.UnknownSpeaker)
	isFinal := d.IsFinal == nil || *d.IsFinal

	stored := p.transcripts.Append(event.MeetingID, model.Utterance{
		UtteranceID:   firstNonEmpty(d.UtteranceID.String(), d.ID.String()),
		Speaker:       speaker,
		Text:          text,
		TimestampISO:  timestamp,
		TimestampUnix: ts.Unix(),
		IsFinal:       isFinal,
	})
	p.metrics.UtterancesIngested.Inc()

	logger.Debugf("[Webhook] 会议 %s 写入转录: %s: %s", event.MeetingID, speaker, truncate(text, 120))
	return &stored
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
