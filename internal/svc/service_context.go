package svc

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/fachebot/meeting-dashboard/internal/chart"
	"github.com/fachebot/meeting-dashboard/internal/config"
	"github.com/fachebot/meeting-dashboard/internal/finalizer"
	"github.com/fachebot/meeting-dashboard/internal/ingest"
	"github.com/fachebot/meeting-dashboard/internal/llm"
	"github.com/fachebot/meeting-dashboard/internal/logger"
	"github.com/fachebot/meeting-dashboard/internal/metrics"
	"github.com/fachebot/meeting-dashboard/internal/model"
	"github.com/fachebot/meeting-dashboard/internal/notify"
	"github.com/fachebot/meeting-dashboard/internal/pdf"
	"github.com/fachebot/meeting-dashboard/internal/summarizer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/net/proxy"
)

type ServiceContext struct {
	Config           *config.Config
	TransportProxy   *http.Transport
	Registry         *prometheus.Registry
	Metrics          *metrics.Metrics
	TranscriptModel  *model.TranscriptModel
	ParticipantModel *model.ParticipantModel
	DashboardModel   *model.DashboardModel
	Summarizer       *summarizer.Service
	Finalizer        *finalizer.Finalizer
	Ingest           *ingest.Processor
}

func NewServiceContext(c *config.Config) *ServiceContext {
	// 创建SOCKS5代理
	var transportProxy *http.Transport
	if c.Sock5Proxy.Enable {
		socks5Proxy := fmt.Sprintf("%s:%d", c.Sock5Proxy.Host, c.Sock5Proxy.Port)
		dialer, err := proxy.SOCKS5("tcp", socks5Proxy, nil, proxy.Direct)
		if err != nil {
			logger.Fatalf("创建SOCKS5代理失败, %v", err)
		}

		transportProxy = &http.Transport{
			Dial:            dialer.Dial,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	// 指标注册表
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// 总结后端
	var backend summarizer.Backend
	switch c.Summarizer.Backend {
	case "llm":
		backend = llm.NewClient(&c.LLM, transportProxy)
		logger.Infof("[Summarizer] 使用 LLM 总结后端: %s", c.LLM.Model)
	default:
		backend = summarizer.NewHeuristicBackend()
		logger.Infof("[Summarizer] 使用本地规则总结后端")
	}
	summarizerService := summarizer.NewService(backend, seconds(c.Timeouts.SummarizerSeconds))

	transcriptModel := model.NewTranscriptModel()
	participantModel := model.NewParticipantModel(c.Participants.Default)
	dashboardModel := model.NewDashboardModel(time.Duration(c.Dashboard.CacheTTLMinutes) * time.Minute)

	deps := finalizer.Deps{
		Transcripts:  transcriptModel,
		Summarizer:   summarizerService,
		Charts:       chart.NewRenderer(c.Chart.Width, c.Chart.Height),
		PDF:          pdf.NewChromeRenderer(c.PDF),
		Participants: participantModel,
		Dashboards:   dashboardModel,
		Metrics:      m,
	}
	if c.MailEnabled() {
		deps.Mailer = notify.NewMailer(&c.SMTP)
	} else {
		logger.Warnf("[Notify] 未配置 SMTP.Host，会议看板不会通过邮件发送")
	}

	finalizerInstance := finalizer.New(deps, finalizer.Options{
		ChartTimeout:   seconds(c.Timeouts.ChartSeconds),
		PDFTimeout:     seconds(c.Timeouts.PDFSeconds),
		MailTimeout:    seconds(c.Timeouts.MailSeconds),
		TranscriptTail: c.Dashboard.TranscriptTail,
	})

	svcCtx := &ServiceContext{
		Config:           c,
		TransportProxy:   transportProxy,
		Registry:         registry,
		Metrics:          m,
		TranscriptModel:  transcriptModel,
		ParticipantModel: participantModel,
		DashboardModel:   dashboardModel,
		Summarizer:       summarizerService,
		Finalizer:        finalizerInstance,
		Ingest:           ingest.NewProcessor(transcriptModel, participantModel, finalizerInstance, m),
	}
	return svcCtx
}

// Close 等待已受理的 webhook 与结束会议流程完成
func (svcCtx *ServiceContext) Close() {
	svcCtx.Ingest.Wait()
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
