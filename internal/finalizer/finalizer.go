// Package finalizer 在会议结束时编排完整流水线：转录快照、总结、统计、图表、
// 看板合成、缓存、PDF 与邮件。每一步失败都降级而不中断。
package finalizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fachebot/meeting-dashboard/internal/analytics"
	"github.com/fachebot/meeting-dashboard/internal/chart"
	"github.com/fachebot/meeting-dashboard/internal/dashboard"
	"github.com/fachebot/meeting-dashboard/internal/logger"
	"github.com/fachebot/meeting-dashboard/internal/metrics"
	"github.com/fachebot/meeting-dashboard/internal/model"
	"github.com/fachebot/meeting-dashboard/internal/notify"
	"github.com/fachebot/meeting-dashboard/internal/summarizer"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// TranscriptSource 转录快照来源
type TranscriptSource interface {
	Snapshot(meetingID string) ([]model.Utterance, error)
	Has(meetingID string) bool
}

// Summarizer 三个互相独立的总结器，失败时返回降级内容而非错误
type Summarizer interface {
	Notes(ctx context.Context, transcript string) summarizer.Output
	Minutes(ctx context.Context, transcript string) summarizer.Output
	Tasks(ctx context.Context, transcript string) summarizer.Output
}

// ChartRenderer 图表渲染能力
type ChartRenderer interface {
	Render(ctx context.Context, counts []analytics.SpeakerCount, buckets []chart.Bucket) (chart.Images, error)
}

// PDFRenderer HTML 转 PDF 能力
type PDFRenderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

// Mailer 邮件发送能力，返回实际发送成功的收件人
type Mailer interface {
	Send(ctx context.Context, msg notify.Message) ([]string, error)
}

// ParticipantResolver 收件人解析
type ParticipantResolver interface {
	Resolve(meetingID string, payload []string) []string
}

// Deps 外部依赖；Mailer 为 nil 时不发送邮件
type Deps struct {
	Transcripts  TranscriptSource
	Summarizer   Summarizer
	Charts       ChartRenderer
	PDF          PDFRenderer
	Mailer       Mailer
	Participants ParticipantResolver
	Dashboards   *model.DashboardModel
	Metrics      *metrics.Metrics
}

// Options 各外部调用的超时与看板参数
type Options struct {
	ChartTimeout   time.Duration
	PDFTimeout     time.Duration
	MailTimeout    time.Duration
	TranscriptTail int
}

// Request 一次结束会议请求
type Request struct {
	MeetingID    string
	Title        string
	Participants []string // 触发载荷中的参会人
}

// Finalizer 会议结束编排器。同一会议同一时刻最多只有一次运行，
// 重叠的触发会等待并共享正在进行的运行结果
type Finalizer struct {
	deps  Deps
	opts  Options
	group singleflight.Group
	now   func() time.Time

	mu            sync.Mutex
	inflight      map[string]struct{}
	lastRuns      map[string]RunSummary
	frontendTasks map[string][]summarizer.TaskRecord
}

func New(deps Deps, opts Options) *Finalizer {
	return &Finalizer{
		deps:          deps,
		opts:          opts,
		now:           time.Now,
		inflight:      make(map[string]struct{}),
		lastRuns:      make(map[string]RunSummary),
		frontendTasks: make(map[string][]summarizer.TaskRecord),
	}
}

// Finalize 执行一次结束会议流程。调用方取消 ctx 不会中断已开始的运行
func (f *Finalizer) Finalize(ctx context.Context, req Request) *Result {
	req.MeetingID = model.NormalizeMeetingID(req.MeetingID)
	ctx = context.WithoutCancel(ctx)

	v, _, shared := f.group.Do(req.MeetingID, func() (any, error) {
		return f.run(ctx, req), nil
	})
	if shared {
		logger.Infof("[Finalizer] 会议 %s 已有进行中的运行，复用其结果", req.MeetingID)
	}
	return v.(*Result)
}

// State 会议当前所处阶段
func (f *Finalizer) State(meetingID string) (State, *RunSummary) {
	meetingID = model.NormalizeMeetingID(meetingID)

	f.mu.Lock()
	_, running := f.inflight[meetingID]
	last, hasLast := f.lastRuns[meetingID]
	f.mu.Unlock()

	var lastRun *RunSummary
	if hasLast {
		lastRun = &last
	}

	switch {
	case running:
		return StateFinalizing, lastRun
	case f.deps.Transcripts.Has(meetingID):
		return StateCollecting, lastRun
	default:
		return StateIdle, lastRun
	}
}

// StoreFrontendTasks 保存前端整理好的任务，下一次运行时替代任务提取，用后即清
func (f *Finalizer) StoreFrontendTasks(meetingID string, tasks []summarizer.TaskRecord) []summarizer.TaskRecord {
	meetingID = model.NormalizeMeetingID(meetingID)
	normalized := summarizer.NormalizeRecords(tasks)

	f.mu.Lock()
	f.frontendTasks[meetingID] = normalized
	f.mu.Unlock()
	return normalized
}

func (f *Finalizer) takeFrontendTasks(meetingID string) ([]summarizer.TaskRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tasks, ok := f.frontendTasks[meetingID]
	if ok {
		delete(f.frontendTasks, meetingID)
	}
	return tasks, ok
}

func (f *Finalizer) setInflight(meetingID string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if running {
		f.inflight[meetingID] = struct{}{}
	} else {
		delete(f.inflight, meetingID)
	}
}

func (f *Finalizer) stageFailed(stage string) {
	f.deps.Metrics.StageFailuresTotal.WithLabelValues(stage).Inc()
}

// goSafe 在 goroutine 中执行 fn，panic 时记录日志并调用 onPanic
func goSafe(wg *sync.WaitGroup, name string, fn func(), onPanic func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[Finalizer] %s panic: %v", name, r)
				onPanic()
			}
		}()
		fn()
	}()
}

func (f *Finalizer) run(ctx context.Context, req Request) (res *Result) {
	meetingID := req.MeetingID
	start := f.now()

	res = &Result{
		RunID:       uuid.NewString(),
		MeetingID:   meetingID,
		State:       StateFailed,
		GeneratedAt: start,
		EmailedTo:   []string{},
	}

	f.setInflight(meetingID, true)
	logger.Infof("[Finalizer] 开始结束会议流程: meeting=%s, run=%s", meetingID, res.RunID)

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Finalizer] 会议 %s 运行异常: %v", meetingID, r)
			res.Success = false
			res.State = StateFailed
			res.Error = fmt.Sprintf("finalize panic: %v", r)
		}
		f.finish(res, start)
	}()

	// 1. 转录快照，之后到达的片段不计入本次运行
	utterances, err := f.deps.Transcripts.Snapshot(meetingID)
	if err != nil {
		logger.Errorf("[Finalizer] 获取会议 %s 转录失败，使用空转录: %v", meetingID, err)
		f.stageFailed(metrics.StageSnapshot)
		utterances = []model.Utterance{}
	}
	text := model.JoinTexts(utterances)

	// 2-4. 总结器与图表基于同一快照并发执行
	snap := analytics.Compute(utterances, start)
	buckets := chart.Bucketize(utterances, start)

	var (
		wg      sync.WaitGroup
		notes   = summarizer.Output{Kind: summarizer.KindRawFailure, Lines: []string{summarizer.NotesUnavailable}, Tasks: []summarizer.TaskRecord{}}
		minutes = summarizer.Output{Kind: summarizer.KindRawFailure, Lines: []string{summarizer.MinutesUnavailable}, Tasks: []summarizer.TaskRecord{}}
		tasks   = summarizer.Output{Kind: summarizer.KindRawFailure, Lines: []string{}, Tasks: []summarizer.TaskRecord{}}
		images  chart.Images
	)

	goSafe(&wg, "notes", func() { notes = f.deps.Summarizer.Notes(ctx, text) }, func() {})
	goSafe(&wg, "minutes", func() { minutes = f.deps.Summarizer.Minutes(ctx, text) }, func() {})
	if stored, ok := f.takeFrontendTasks(meetingID); ok {
		logger.Infof("[Finalizer] 会议 %s 使用前端提交的 %d 个任务", meetingID, len(stored))
		tasks = summarizer.Output{Kind: summarizer.KindTaskRecords, Lines: []string{}, Tasks: stored}
	} else {
		goSafe(&wg, "tasks", func() { tasks = f.deps.Summarizer.Tasks(ctx, text) }, func() {})
	}
	goSafe(&wg, "charts", func() { images = f.renderCharts(ctx, snap, buckets) }, func() {
		images = chart.Images{}
		f.stageFailed(metrics.StageCharts)
	})
	wg.Wait()

	for stage, out := range map[string]summarizer.Output{
		metrics.StageNotes:   notes,
		metrics.StageMinutes: minutes,
		metrics.StageTasks:   tasks,
	} {
		if out.Failed() {
			f.stageFailed(stage)
		}
	}

	// 5. 解析收件人
	recipients := f.deps.Participants.Resolve(meetingID, req.Participants)

	// 6. 合成看板
	doc := dashboard.Compose(dashboard.Input{
		Title:          req.Title,
		Notes:          notes.Lines,
		Minutes:        minutes.Lines,
		Tasks:          tasks.Tasks,
		Analytics:      snap,
		Charts:         images,
		Utterances:     utterances,
		Participants:   recipients,
		GeneratedAt:    start,
		TranscriptTail: f.opts.TranscriptTail,
	})
	html, err := dashboard.RenderHTML(doc)
	if err != nil {
		logger.Errorf("[Finalizer] 会议 %s 渲染看板失败: %v", meetingID, err)
		f.stageFailed(metrics.StageCompose)
		res.Error = fmt.Sprintf("dashboard rendering failed: %v", err)
		return res
	}

	res.Document = doc
	res.HTML = html
	res.DashboardComposed = true
	res.Success = true
	res.State = StateComposed

	// 7. 缓存看板
	f.deps.Dashboards.Put(model.DashboardEntry{
		MeetingID:   meetingID,
		RunID:       res.RunID,
		Title:       doc.Title,
		HTML:        html,
		GeneratedAt: start,
	})
	f.deps.Metrics.DashboardCacheEntries.Set(float64(f.deps.Dashboards.Len()))

	// 8. 渲染 PDF
	pdfBytes, err := f.renderPDF(ctx, html)
	if err != nil {
		logger.Errorf("[Finalizer] 会议 %s 生成 PDF 失败: %v", meetingID, err)
		f.stageFailed(metrics.StagePDF)
		res.NotificationError = fmt.Sprintf("PDF rendering failed, email not sent: %v", err)
		return res
	}
	res.PDFRendered = true
	f.deps.Dashboards.AttachPDF(meetingID, res.RunID, pdfBytes)

	// 9. 发送邮件
	if len(recipients) == 0 {
		logger.Infof("[Finalizer] 会议 %s 没有收件人，跳过邮件", meetingID)
		return res
	}
	if f.deps.Mailer == nil {
		logger.Warnf("[Finalizer] 未配置 SMTP，跳过会议 %s 的邮件", meetingID)
		return res
	}

	sent, err := f.sendMail(ctx, recipients, doc, html, pdfBytes)
	res.EmailedTo = sent
	f.deps.Metrics.EmailsSentTotal.Add(float64(len(sent)))
	if err != nil {
		logger.Errorf("[Finalizer] 会议 %s 发送邮件失败: %v", meetingID, err)
		f.stageFailed(metrics.StageEmail)
		res.NotificationError = fmt.Sprintf("email delivery failed: %v", err)
	}
	return res
}

func (f *Finalizer) finish(res *Result, start time.Time) {
	f.setInflight(res.MeetingID, false)

	outcome := "success"
	switch {
	case !res.Success:
		outcome = "failed"
	case res.NotificationError != "":
		outcome = "partial"
	}
	f.deps.Metrics.FinalizeRunsTotal.WithLabelValues(outcome).Inc()
	f.deps.Metrics.FinalizeSeconds.Observe(time.Since(start).Seconds())

	f.mu.Lock()
	f.lastRuns[res.MeetingID] = res.Summary()
	f.mu.Unlock()

	logger.Infof("[Finalizer] 会议 %s 结束流程完成: state=%s, pdf=%t, emailed=%d",
		res.MeetingID, res.State, res.PDFRendered, len(res.EmailedTo))
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (f *Finalizer) renderCharts(ctx context.Context, snap analytics.Snapshot, buckets []chart.Bucket) chart.Images {
	ctx, cancel := withTimeout(ctx, f.opts.ChartTimeout)
	defer cancel()

	images, err := f.deps.Charts.Render(ctx, snap.PerSpeaker, buckets)
	if err != nil {
		logger.Warnf("[Finalizer] 渲染图表失败: %v", err)
		f.stageFailed(metrics.StageCharts)
	}
	return images
}

func (f *Finalizer) renderPDF(ctx context.Context, html string) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, f.opts.PDFTimeout)
	defer cancel()

	data, err := f.deps.PDF.Render(ctx, html)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("PDF 内容为空")
	}
	return data, nil
}

// RenderPDF 为已缓存但缺少 PDF 的看板补生成 PDF
func (f *Finalizer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	return f.renderPDF(ctx, html)
}

// sendMail 邮件正文为完整看板 HTML，同时附带 PDF
func (f *Finalizer) sendMail(ctx context.Context, recipients []string, doc *dashboard.Document, html string, pdf []byte) ([]string, error) {
	ctx, cancel := withTimeout(ctx, f.opts.MailTimeout)
	defer cancel()

	sent, err := f.deps.Mailer.Send(ctx, notify.Message{
		Recipients: recipients,
		Title:      doc.Title,
		HTMLBody:   html,
		PDF:        pdf,
	})
	if sent == nil {
		sent = []string{}
	}
	return sent, err
}
