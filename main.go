package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fachebot/meeting-dashboard/internal/config"
	"github.com/fachebot/meeting-dashboard/internal/handler"
	"github.com/fachebot/meeting-dashboard/internal/logger"
	"github.com/fachebot/meeting-dashboard/internal/scheduler"
	"github.com/fachebot/meeting-dashboard/internal/svc"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var configFile = flag.String("f", "etc/config.yaml", "the config file")

func main() {
	flag.Parse()

	// 读取配置文件
	c, err := config.LoadFromFile(*configFile)
	if err != nil {
		logger.Fatalf("读取配置文件失败, %s", err)
	}
	logger.Init(c.Log.Level, c.Log.Dir)

	// 创建服务上下文
	svcCtx := svc.NewServiceContext(c)

	// 创建并启动调度器
	schedulerInstance := scheduler.NewScheduler(
		svcCtx.DashboardModel,
		svcCtx.TranscriptModel,
		svcCtx.Metrics,
		&c.Dashboard,
		&c.Transcript,
	)
	if err := schedulerInstance.Start(); err != nil {
		logger.Fatalf("[Scheduler] 启动调度器失败: %s", err)
	}

	// 创建HTTP服务
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(c.Server.BodyLimit))
	e.Use(middleware.CORS())
	e.Use(handler.RequestLogger())
	handler.New(svcCtx).Register(e)

	addr := net.JoinHostPort(c.Server.Host, c.Server.Port)
	go func() {
		logger.Infof("[HTTP] 服务已启动: %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("[HTTP] 启动服务失败: %s", err)
		}
	}()

	// 等待程序退出
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	// 优雅关闭
	logger.Infof("正在关闭服务...")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Errorf("[HTTP] 关闭服务失败, %v", err)
	}
	schedulerInstance.Stop()
	svcCtx.Close()
	logger.Infof("服务已停止")
}
