// Package dashboard 将总结、统计与图表合成为会议看板文档并渲染为 HTML。
// 所有函数均无 I/O，相同输入得到逐字节相同的输出。
package dashboard

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/fachebot/meeting-dashboard/internal/analytics"
	"github.com/fachebot/meeting-dashboard/internal/chart"
	"github.com/fachebot/meeting-dashboard/internal/model"
	"github.com/fachebot/meeting-dashboard/internal/summarizer"
)

const (
	DefaultTitle       = "Meeting"
	NoSummary          = "No summary available"
	NoDiscussionPoints = "No discussion points recorded"
	NoneLabel          = "None"
	NoData             = "No data"

	// DefaultTranscriptTail 看板中展示的转录条数
	DefaultTranscriptTail = 500
)

//go:embed dashboard.html.tmpl
var dashboardHTML string

var dashboardTmpl = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"momLine": FormatMinutesLine,
}).Parse(dashboardHTML))

// Input 合成看板所需的全部输入
type Input struct {
	Title          string
	Notes          []string
	Minutes        []string
	Tasks          []summarizer.TaskRecord
	Analytics      analytics.Snapshot
	Charts         chart.Images
	Utterances     []model.Utterance
	Participants   []string
	GeneratedAt    time.Time
	TranscriptTail int // <= 0 时使用 DefaultTranscriptTail
}

// TranscriptLine 看板中的一条转录
type TranscriptLine struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Charts 图表的 data URI，未渲染的图表为空
type Charts struct {
	Bar  template.URL
	Pie  template.URL
	Line template.URL
}

// Document 渲染前的看板文档
type Document struct {
	Title        string                  `json:"meetingTitle"`
	Summary      string                  `json:"summary"`
	Notes        []string                `json:"notes"`
	Minutes      []string                `json:"mom"`
	ActionItems  []string                `json:"actionItems"`
	Tasks        []summarizer.TaskRecord `json:"tasks"`
	Analytics    analytics.Snapshot      `json:"analytics"`
	Transcript   []TranscriptLine        `json:"transcript"`
	Participants []string                `json:"participants"`
	GeneratedAt  time.Time               `json:"generatedAt"`
	Charts       Charts                  `json:"-"`
}

// Compose 合成看板文档
func Compose(in Input) *Document {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = DefaultTitle
	}

	doc := &Document{
		Title:        title,
		Summary:      pickSummary(in.Notes, in.Minutes),
		Notes:        nonNil(in.Notes),
		Minutes:      nonNil(in.Minutes),
		ActionItems:  actionItems(in.Tasks),
		Tasks:        in.Tasks,
		Analytics:    in.Analytics,
		Transcript:   transcriptTail(in.Utterances, in.TranscriptTail),
		Participants: nonNil(in.Participants),
		GeneratedAt:  in.GeneratedAt,
		Charts: Charts{
			Bar:  dataURI(in.Charts.Bar),
			Pie:  dataURI(in.Charts.Pie),
			Line: dataURI(in.Charts.Line),
		},
	}
	if doc.Tasks == nil {
		doc.Tasks = []summarizer.TaskRecord{}
	}
	if doc.Analytics.PerSpeaker == nil {
		doc.Analytics.PerSpeaker = []analytics.SpeakerCount{}
	}
	return doc
}

// RenderHTML 渲染看板 HTML，所有不可信文本都会被转义
func RenderHTML(doc *Document) (string, error) {
	var buf bytes.Buffer
	if err := dashboardTmpl.Execute(&buf, view{Document: doc}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// view 模板使用的只读视图
type view struct {
	*Document
}

func (v view) GeneratedLabel() string {
	if v.GeneratedAt.IsZero() {
		return ""
	}
	return v.GeneratedAt.UTC().Format("Monday, January 2, 2006 15:04 MST")
}

func (v view) NoDiscussionPoints() string { return NoDiscussionPoints }
func (v view) NoneLabel() string          { return NoneLabel }
func (v view) NoData() string             { return NoData }

// pickSummary 笔记首行，其次纪要首行；“无纪要”占位不作为摘要
func pickSummary(notes, minutes []string) string {
	for _, lines := range [][]string{notes, minutes} {
		for _, l := range lines {
			if l = strings.TrimSpace(l); l != "" && l != summarizer.NoMinutes {
				return l
			}
		}
	}
	return NoSummary
}

func actionItems(tasks []summarizer.TaskRecord) []string {
	items := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t.Task != "" {
			items = append(items, t.Task)
		}
	}
	return items
}

func transcriptTail(utterances []model.Utterance, tail int) []TranscriptLine {
	if tail <= 0 {
		tail = DefaultTranscriptTail
	}
	if len(utterances) > tail {
		utterances = utterances[len(utterances)-tail:]
	}

	lines := make([]TranscriptLine, 0, len(utterances))
	for _, u := range utterances {
		lines = append(lines, TranscriptLine{
			Speaker:   analytics.SpeakerName(u),
			Text:      u.Text,
			Timestamp: u.TimestampISO,
		})
	}
	return lines
}

func dataURI(png []byte) template.URL {
	if len(png) == 0 {
		return ""
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))
}

func nonNil(lines []string) []string {
	if lines == nil {
		return []string{}
	}
	return lines
}

var (
	boldRe    = regexp.MustCompile(`\*\*(.*?)\*\*`)
	headingRe = regexp.MustCompile(`^#+\s*(.*)`)
	bulletRe  = regexp.MustCompile(`^-+\s*`)
	backtickR = regexp.MustCompile("`+")
)

// FormatMinutesLine 转义后做轻量 markdown 清理：**粗体** 与 # 标题转为 <strong>，去除列表符号与反引号
func FormatMinutesLine(line string) template.HTML {
	t := template.HTMLEscapeString(line)
	t = boldRe.ReplaceAllString(t, "<strong>$1</strong>")
	t = headingRe.ReplaceAllString(t, "<strong>$1</strong>")
	t = bulletRe.ReplaceAllString(t, "")
	t = backtickR.ReplaceAllString(t, "")
	return template.HTML(strings.TrimSpace(t))
}
