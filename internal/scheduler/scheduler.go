package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/fachebot/meeting-dashboard/internal/config"
	"github.com/fachebot/meeting-dashboard/internal/logger"
	"github.com/fachebot/meeting-dashboard/internal/metrics"
	"github.com/fachebot/meeting-dashboard/internal/model"
	"github.com/robfig/cron/v3"
)

// Scheduler 定期清理过期看板与长期空闲的会议转录
type Scheduler struct {
	cron        *cron.Cron
	dashboards  *model.DashboardModel
	transcripts *model.TranscriptModel
	metrics     *metrics.Metrics
	dashCfg     *config.Dashboard
	retention   time.Duration
	now         func() time.Time
	mu          sync.Mutex
}

// locUTC UTC 标准时间（UTC）
var locUTC = time.UTC

func NewScheduler(
	dashboards *model.DashboardModel,
	transcripts *model.TranscriptModel,
	m *metrics.Metrics,
	dashCfg *config.Dashboard,
	transcriptCfg *config.Transcript,
) *Scheduler {
	return &Scheduler{
		cron:        cron.New(cron.WithLocation(locUTC)),
		dashboards:  dashboards,
		transcripts: transcripts,
		metrics:     m,
		dashCfg:     dashCfg,
		retention:   time.Duration(transcriptCfg.RetentionHours) * time.Hour,
		now:         time.Now,
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.dashCfg.JanitorCron, s.runJanitor)
	if err != nil {
		return fmt.Errorf("注册清理任务失败: %w", err)
	}

	s.cron.Start()
	logger.Infof("[Scheduler] 调度器已启动，清理任务: %s", s.dashCfg.JanitorCron)
	return nil
}

// Stop 停止调度器，等待正在执行的任务结束
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Infof("[Scheduler] 调度器已停止")
}

// runJanitor 清理过期看板；配置了保留时长时同时清理空闲会议的转录
func (s *Scheduler) runJanitor() {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := s.dashboards.EvictExpired()
	s.metrics.DashboardCacheEvictions.Add(float64(evicted))
	s.metrics.DashboardCacheEntries.Set(float64(s.dashboards.Len()))
	if evicted > 0 {
		logger.Infof("[Scheduler] 已清理 %d 个过期看板", evicted)
	}

	if s.retention <= 0 {
		return
	}
	cutoff := s.now().Add(-s.retention)
	if pruned := s.transcripts.PruneIdle(cutoff); pruned > 0 {
		logger.Infof("[Scheduler] 已清理 %d 个空闲会议的转录, 截止时间: %s", pruned, cutoff.In(locUTC).Format(time.RFC3339))
	}
}
