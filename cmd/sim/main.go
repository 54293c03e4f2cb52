package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/swarmbot/gosim/internal/simulation"
	"github.com/swarmbot/gosim/pkg/config"
	"github.com/swarmbot/gosim/pkg/logger"
	"github.com/swarmbot/gosim/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	// .env 不存在不算错误
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.OutputFile,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Errorf("回测失败: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sim, err := simulation.New(ctx, cfg)
	if err != nil {
		return err
	}

	mgr := shutdown.NewManager()
	mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		defer wg.Done()
		cancel()
	})

	// Ctrl-C 触发优雅收尾：取消上下文，让 Run 走正常的撤单+报告路径
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Warnf("收到信号 %s，开始停机", sig)
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		mgr.Shutdown(shutdownCtx)
	}()

	return sim.Run(ctx)
}
