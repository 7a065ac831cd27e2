package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/common/logger"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/config"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/service"

	"go.uber.org/zap"
)

const serviceName = "imac-bridge"

func main() {
	// 1. 加载配置
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName, &logger.FileConfig{
		Path:       cfg.Log.File,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: 30,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建服务
	bridgeService, err := service.NewBridgeService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create bridge service", zap.Error(err))
	}
	defer bridgeService.Stop()

	// 4. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 启动服务（在 goroutine 中）
	serviceErrChan := make(chan error, 1)
	go func() {
		serviceErrChan <- bridgeService.Start(ctx)
	}()

	// 6. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		<-serviceErrChan
	case err := <-serviceErrChan:
		if err != nil {
			log.Error("Service error", zap.Error(err))
			bridgeService.Stop()
			_ = log.Sync()
			os.Exit(1)
		}
	}

	log.Info("Bridge service exited")
}
