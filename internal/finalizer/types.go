package finalizer

import (
	"time"

	"github.com/fachebot/meeting-dashboard/internal/dashboard"
)

// State 会议生命周期阶段
type State string

const (
	StateIdle       State = "idle"
	StateCollecting State = "collecting"
	StateFinalizing State = "finalizing"
	StateComposed   State = "composed"
	StateFailed     State = "failed"
)

// Result 一次结束会议运行的结果。
// Success 只表示看板是否合成成功，PDF 与邮件的失败记录在 NotificationError
type Result struct {
	RunID             string
	MeetingID         string
	State             State
	Success           bool
	Error             string
	Document          *dashboard.Document
	HTML              string
	GeneratedAt       time.Time
	DashboardComposed bool
	PDFRendered       bool
	EmailedTo         []string
	NotificationError string
}

// RunSummary 运行结果摘要，不含看板内容
type RunSummary struct {
	RunID             string    `json:"runId"`
	State             State     `json:"state"`
	Success           bool      `json:"success"`
	Error             string    `json:"error,omitempty"`
	GeneratedAt       time.Time `json:"generatedAt"`
	DashboardComposed bool      `json:"dashboardComposed"`
	PDFRendered       bool      `json:"pdfRendered"`
	EmailedTo         []string  `json:"emailedTo"`
	NotificationError string    `json:"notificationError,omitempty"`
}

func (r *Result) Summary() RunSummary {
	return RunSummary{
		RunID:             r.RunID,
		State:             r.State,
		Success:           r.Success,
		Error:             r.Error,
		GeneratedAt:       r.GeneratedAt,
		DashboardComposed: r.DashboardComposed,
		PDFRendered:       r.PDFRendered,
		EmailedTo:         r.EmailedTo,
		NotificationError: r.NotificationError,
	}
}
