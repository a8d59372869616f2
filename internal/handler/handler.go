// Package handler 对外提供会议看板的 HTTP 接口
package handler

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fachebot/meeting-dashboard/internal/dashboard"
	"github.com/fachebot/meeting-dashboard/internal/finalizer"
	"github.com/fachebot/meeting-dashboard/internal/logger"
	"github.com/fachebot/meeting-dashboard/internal/model"
	"github.com/fachebot/meeting-dashboard/internal/summarizer"
	"github.com/fachebot/meeting-dashboard/internal/svc"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const pdfFileName = "meeting-dashboard.pdf"

type Handler struct {
	svcCtx *svc.ServiceContext
}

func New(svcCtx *svc.ServiceContext) *Handler {
	return &Handler{svcCtx: svcCtx}
}

// Register 注册全部路由
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.svcCtx.Registry, promhttp.HandlerOpts{})))

	e.POST("/participants", h.addParticipants)
	e.GET("/participants/:meetingId", h.listParticipants)

	e.POST("/finish-meeting", h.finishMeeting)
	e.GET("/dashboard", h.getDashboard)
	e.GET("/download-pdf", h.downloadPDF)
	e.GET("/transcript/:meetingId", h.getTranscript)
	e.GET("/meetings/:meetingId/state", h.getMeetingState)

	e.POST("/generate-mom", h.generateMinutes)
	e.POST("/extract-tasks", h.extractTasks)
	e.POST("/api/store-frontend-tasks", h.storeFrontendTasks)

	e.POST("/webhook/transcription", h.webhook)
}

func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

type participantsRequest struct {
	MeetingID string   `json:"meetingId"`
	Emails    []string `json:"emails" validate:"required,min=1"`
}

type participantsResponse struct {
	OK           bool     `json:"ok,omitempty"`
	MeetingID    string   `json:"meetingId"`
	Participants []string `json:"participants"`
}

func (h *Handler) addParticipants(c echo.Context) error {
	var req participantsRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, ErrInvalidArgument("invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return handleError(c, ErrInvalidArgument("emails array required"))
	}
	if !hasNonBlank(req.Emails) {
		return handleError(c, ErrInvalidArgument("emails array required"))
	}

	meetingID := model.NormalizeMeetingID(req.MeetingID)
	list := h.svcCtx.ParticipantModel.AddEmails(meetingID, req.Emails)
	logger.Infof("[HTTP] 会议 %s 登记参会人, 共 %d 人", meetingID, len(list))

	return c.JSON(http.StatusOK, participantsResponse{OK: true, MeetingID: meetingID, Participants: list})
}

func hasNonBlank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func (h *Handler) listParticipants(c echo.Context) error {
	meetingID := model.NormalizeMeetingID(c.Param("meetingId"))
	return c.JSON(http.StatusOK, participantsResponse{
		MeetingID:    meetingID,
		Participants: h.svcCtx.ParticipantModel.List(meetingID),
	})
}

type finishMeetingRequest struct {
	MeetingID string   `json:"meetingId"`
	Emails    []string `json:"emails"`
	Title     string   `json:"title"`
}

type finishMeetingResponse struct {
	OK                bool                `json:"ok"`
	Message           string              `json:"message"`
	DownloadURL       string              `json:"downloadUrl"`
	DashboardData     *dashboard.Document `json:"dashboardData"`
	EmailedTo         []string            `json:"emailedTo"`
	PDFRendered       bool                `json:"pdfRendered"`
	NotificationError string              `json:"notificationError,omitempty"`
}

func (h *Handler) finishMeeting(c echo.Context) error {
	var req finishMeetingRequest
	if err := c.Bind(&req); err != nil {
		return handleFailure(c, ErrInvalidArgument("invalid request body"))
	}

	meetingID := model.NormalizeMeetingID(req.MeetingID)
	if len(req.Emails) > 0 {
		list := h.svcCtx.ParticipantModel.AddEmails(meetingID, req.Emails)
		logger.Infof("[HTTP] finish-meeting 为会议 %s 追加参会人, 共 %d 人", meetingID, len(list))
	}

	res := h.svcCtx.Finalizer.Finalize(c.Request().Context(), finalizer.Request{
		MeetingID: meetingID,
		Title:     req.Title,
	})
	if !res.Success {
		message := res.Error
		if message == "" {
			message = "Failed to generate dashboard"
		}
		return handleFailure(c, ErrInternal(message, nil))
	}

	message := "Dashboard generated and emails (if any) sent"
	if res.NotificationError != "" {
		message = "Dashboard generated; notification failed"
	}
	return c.JSON(http.StatusOK, finishMeetingResponse{
		OK:                true,
		Message:           message,
		DownloadURL:       h.downloadURL(meetingID, res.GeneratedAt),
		DashboardData:     res.Document,
		EmailedTo:         res.EmailedTo,
		PDFRendered:       res.PDFRendered,
		NotificationError: res.NotificationError,
	})
}

func (h *Handler) downloadURL(meetingID string, generatedAt time.Time) string {
	query := url.Values{}
	query.Set("meetingId", meetingID)
	query.Set("ts", fmt.Sprintf("%d", generatedAt.UnixMilli()))
	return strings.TrimRight(h.svcCtx.Config.Server.PublicBaseURL, "/") + "/download-pdf?" + query.Encode()
}

func (h *Handler) getDashboard(c echo.Context) error {
	entry, ok := h.svcCtx.DashboardModel.Get(c.QueryParam("meetingId"))
	if !ok {
		return c.String(http.StatusNotFound, "No dashboard generated yet.")
	}
	return c.HTML(http.StatusOK, entry.HTML)
}

func (h *Handler) downloadPDF(c echo.Context) error {
	entry, ok := h.svcCtx.DashboardModel.Get(c.QueryParam("meetingId"))
	if !ok {
		return c.String(http.StatusBadRequest, "Dashboard not generated yet.")
	}

	data := entry.PDF
	if len(data) == 0 {
		var err error
		data, err = h.svcCtx.Finalizer.RenderPDF(c.Request().Context(), entry.HTML)
		if err != nil {
			logger.Errorf("[HTTP] 会议 %s 生成 PDF 失败: %v", entry.MeetingID, err)
			return c.String(http.StatusInternalServerError, "Failed to generate PDF.")
		}
		h.svcCtx.DashboardModel.AttachPDF(entry.MeetingID, entry.RunID, data)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s", pdfFileName))
	return c.Blob(http.StatusOK, "application/pdf", data)
}

func (h *Handler) getTranscript(c echo.Context) error {
	meetingID := model.NormalizeMeetingID(c.Param("meetingId"))
	snapshot, err := h.svcCtx.TranscriptModel.Snapshot(meetingID)
	if err != nil {
		return handleError(c, ErrInternal("failed to read transcript", err))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"meetingId":  meetingID,
		"transcript": snapshot,
	})
}

func (h *Handler) getMeetingState(c echo.Context) error {
	meetingID := model.NormalizeMeetingID(c.Param("meetingId"))
	state, lastRun := h.svcCtx.Finalizer.State(meetingID)
	return c.JSON(http.StatusOK, map[string]any{
		"meetingId": meetingID,
		"state":     state,
		"lastRun":   lastRun,
	})
}

type transcriptRequest struct {
	Transcript string `json:"transcript"`
}

func (r transcriptRequest) text() string {
	return strings.TrimSpace(r.Transcript)
}

func (h *Handler) generateMinutes(c echo.Context) error {
	var req transcriptRequest
	if err := c.Bind(&req); err != nil || req.text() == "" {
		return handleError(c, ErrInvalidArgument("Transcript is required to generate MoM."))
	}

	out := h.svcCtx.Summarizer.Minutes(c.Request().Context(), req.Transcript)
	return c.JSON(http.StatusOK, map[string]any{"mom": out.Lines})
}

func (h *Handler) extractTasks(c echo.Context) error {
	var req transcriptRequest
	if err := c.Bind(&req); err != nil || req.text() == "" {
		return handleError(c, ErrInvalidArgument("Transcript is required"))
	}

	out := h.svcCtx.Summarizer.Tasks(c.Request().Context(), req.Transcript)
	return c.JSON(http.StatusOK, map[string]any{"tasks": out.Tasks})
}

type storeTasksRequest struct {
	MeetingID string                  `json:"meetingId"`
	Tasks     []summarizer.TaskRecord `json:"tasks" validate:"required"`
}

func (h *Handler) storeFrontendTasks(c echo.Context) error {
	var req storeTasksRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, ErrInvalidArgument("tasks must be an array"))
	}
	if err := c.Validate(&req); err != nil {
		return handleError(c, ErrInvalidArgument("tasks must be an array"))
	}

	stored := h.svcCtx.Finalizer.StoreFrontendTasks(req.MeetingID, req.Tasks)
	logger.Infof("[HTTP] 会议 %s 保存前端任务 %d 个", model.NormalizeMeetingID(req.MeetingID), len(stored))
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "stored": len(stored)})
}

// webhook 总是先返回 200，载荷在后台处理
func (h *Handler) webhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		logger.Warnf("[Webhook] 读取请求体失败: %v", err)
		return c.String(http.StatusOK, "OK")
	}

	h.svcCtx.Ingest.Dispatch(c.Request().Context(), body)
	return c.String(http.StatusOK, "OK")
}
