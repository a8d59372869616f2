package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fachebot/meeting-dashboard/internal/analytics"
	"github.com/fachebot/meeting-dashboard/internal/chart"
	"github.com/fachebot/meeting-dashboard/internal/config"
	"github.com/fachebot/meeting-dashboard/internal/finalizer"
	"github.com/fachebot/meeting-dashboard/internal/ingest"
	"github.com/fachebot/meeting-dashboard/internal/metrics"
	"github.com/fachebot/meeting-dashboard/internal/model"
	"github.com/fachebot/meeting-dashboard/internal/summarizer"
	"github.com/fachebot/meeting-dashboard/internal/svc"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCharts struct{}

func (fakeCharts) Render(ctx context.Context, counts []analytics.SpeakerCount, buckets []chart.Bucket) (chart.Images, error) {
	return chart.Images{}, nil
}

type fakePDF struct {
	err error
}

func (f *fakePDF) Render(ctx context.Context, html string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.4 test"), nil
}

type testServer struct {
	echo   *echo.Echo
	svcCtx *svc.ServiceContext
	pdf    *fakePDF
}

func newTestServer() *testServer {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	transcripts := model.NewTranscriptModel()
	participants := model.NewParticipantModel(nil)
	dashboards := model.NewDashboardModel(time.Hour)
	summarizerService := summarizer.NewService(summarizer.NewHeuristicBackend(), time.Second)
	pdf := &fakePDF{}

	fin := finalizer.New(finalizer.Deps{
		Transcripts:  transcripts,
		Summarizer:   summarizerService,
		Charts:       fakeCharts{},
		PDF:          pdf,
		Participants: participants,
		Dashboards:   dashboards,
		Metrics:      m,
	}, finalizer.Options{ChartTimeout: time.Second, PDFTimeout: time.Second, MailTimeout: time.Second})

	svcCtx := &svc.ServiceContext{
		Config:           &config.Config{},
		Registry:         registry,
		Metrics:          m,
		TranscriptModel:  transcripts,
		ParticipantModel: participants,
		DashboardModel:   dashboards,
		Summarizer:       summarizerService,
		Finalizer:        fin,
		Ingest:           ingest.NewProcessor(transcripts, participants, fin, m),
	}

	e := echo.New()
	e.Validator = NewValidator()
	New(svcCtx).Register(e)
	return &testServer{echo: e, svcCtx: svcCtx, pdf: pdf}
}

func (s *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer()
	rec := s.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeJSON(t, rec)["ok"])
}

func TestParticipants(t *testing.T) {
	s := newTestServer()

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"缺少 emails", `{"meetingId":"m1"}`, http.StatusBadRequest},
		{"emails 为空", `{"meetingId":"m1","emails":[]}`, http.StatusBadRequest},
		{"请求体无效", `{"meetingId":`, http.StatusBadRequest},
		{"emails 全为空白", `{"meetingId":"m2","emails":["  ",""]}`, http.StatusBadRequest},
		{"正常登记", `{"meetingId":"m1","emails":["a@example.com"," b@example.com ","a@example.com"]}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/participants", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}

	rec := s.do(http.MethodGet, "/participants/m1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "m1", body["meetingId"])
	assert.Equal(t, []any{"a@example.com", "b@example.com"}, body["participants"])

	rec = s.do(http.MethodGet, "/participants/unknown", "")
	assert.Equal(t, []any{}, decodeJSON(t, rec)["participants"])
}

func TestDashboardBeforeFinish(t *testing.T) {
	s := newTestServer()

	rec := s.do(http.MethodGet, "/dashboard", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/download-pdf?meetingId=m1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFinishMeetingFlow(t *testing.T) {
	s := newTestServer()

	rec := s.do(http.MethodPost, "/webhook/transcription",
		`{"event":"transcript.data","data":{"meeting_id":"m1","data":{"participant":{"name":"Alice"},"words":[{"text":"please send the <b>report</b>"}]}}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	s.svcCtx.Ingest.Wait()

	rec = s.do(http.MethodPost, "/finish-meeting", `{"meetingId":"m1","title":"Weekly","emails":["a@example.com"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["pdfRendered"])
	assert.Contains(t, body["downloadUrl"], "/download-pdf?meetingId=m1")

	data := body["dashboardData"].(map[string]any)
	assert.Equal(t, "Weekly", data["meetingTitle"])
	assert.Equal(t, []any{"please send the <b>report</b>"}, data["actionItems"])
	assert.Equal(t, []any{"a@example.com"}, data["participants"])

	// 未配置邮件时不发送
	assert.Equal(t, []any{}, body["emailedTo"])

	rec = s.do(http.MethodGet, "/dashboard?meetingId=m1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "&lt;b&gt;report&lt;/b&gt;")
	assert.NotContains(t, rec.Body.String(), "<b>report</b>")

	// 未指定会议时返回最近一次看板
	rec = s.do(http.MethodGet, "/dashboard", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/download-pdf?meetingId=m1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "meeting-dashboard.pdf")
	assert.Equal(t, "%PDF-1.4 test", rec.Body.String())

	rec = s.do(http.MethodGet, "/transcript/m1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeJSON(t, rec)["transcript"], 1)

	rec = s.do(http.MethodGet, "/meetings/m1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	state := decodeJSON(t, rec)
	assert.Equal(t, string(finalizer.StateCollecting), state["state"])
	assert.NotNil(t, state["lastRun"])
}

func TestFinishMeeting_PDFFailure(t *testing.T) {
	s := newTestServer()
	s.pdf.err = errors.New("chrome missing")

	rec := s.do(http.MethodPost, "/finish-meeting", `{"meetingId":"m2","emails":["a@example.com"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, false, body["pdfRendered"])
	assert.Contains(t, body["notificationError"], "PDF rendering failed")
	assert.Equal(t, []any{}, body["emailedTo"])

	// 看板仍可访问，PDF 重新生成仍然失败
	rec = s.do(http.MethodGet, "/dashboard?meetingId=m2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, "/download-pdf?meetingId=m2", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// PDF 恢复后按需生成
	s.pdf.err = nil
	rec = s.do(http.MethodGet, "/download-pdf?meetingId=m2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	entry, ok := s.svcCtx.DashboardModel.Get("m2")
	require.True(t, ok)
	assert.NotEmpty(t, entry.PDF)
}

func TestGenerateMinutes(t *testing.T) {
	s := newTestServer()

	rec := s.do(http.MethodPost, "/generate-mom", `{"transcript":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Transcript is required to generate MoM.", decodeJSON(t, rec)["error"])

	rec = s.do(http.MethodPost, "/generate-mom", `{"transcript":"We agreed to launch next month"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"Decision: We agreed to launch next month"}, decodeJSON(t, rec)["mom"])
}

func TestExtractTasks(t *testing.T) {
	s := newTestServer()

	rec := s.do(http.MethodPost, "/extract-tasks", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/extract-tasks", `{"transcript":"Bob will send the deck by Friday"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := decodeJSON(t, rec)["tasks"].([]any)
	require.Len(t, tasks, 1)
	task := tasks[0].(map[string]any)
	assert.Equal(t, "Bob", task["assigned_to"])
	assert.Equal(t, "Friday", task["deadline"])
}

func TestStoreFrontendTasks(t *testing.T) {
	s := newTestServer()

	rec := s.do(http.MethodPost, "/api/store-frontend-tasks", `{"meetingId":"m3"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "tasks must be an array", decodeJSON(t, rec)["error"])

	rec = s.do(http.MethodPost, "/api/store-frontend-tasks", `{"meetingId":"m3","tasks":[{"task":"Write the summary"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeJSON(t, rec)["stored"])

	rec = s.do(http.MethodPost, "/finish-meeting", `{"meetingId":"m3"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeJSON(t, rec)["dashboardData"].(map[string]any)
	assert.Equal(t, []any{"Write the summary"}, data["actionItems"])
}

func TestWebhook_AlwaysOK(t *testing.T) {
	s := newTestServer()

	for _, body := range []string{`not json`, `{"event":"unknown"}`, `{"event":"meeting.participant_joined","data":{"meeting_id":"m4","participant":{"email":"x@example.com"}}}`} {
		rec := s.do(http.MethodPost, "/webhook/transcription", body)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	s.svcCtx.Ingest.Wait()
	assert.Equal(t, []string{"x@example.com"}, s.svcCtx.ParticipantModel.List("m4"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer()
	s.do(http.MethodPost, "/finish-meeting", `{"meetingId":"m5"}`)

	rec := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `meeting_finalize_runs_total{outcome="success"} 1`)
}
