// bus-server 是 websocket 总线后端的消息服务器
// 多进程部署时各参与者通过它交换消息；单进程场景用本地总线即可
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/swarmbot/gosim/internal/bus"
	"github.com/swarmbot/gosim/pkg/logger"
	"github.com/swarmbot/gosim/pkg/syncgroup"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8710", "监听地址")
	logLevel := flag.String("log-level", "info", "日志级别")
	flag.Parse()

	if err := logger.Init(logger.Config{Level: *logLevel}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	hub := bus.NewHub()
	mux := http.NewServeMux()
	mux.HandleFunc("/bus", hub.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: *addr, Handler: mux}
	sg := syncgroup.NewSyncGroup()
	sg.Add(func() {
		logger.Infof("消息服务器启动: ws://%s/bus", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("消息服务器异常退出: %v", err)
			os.Exit(1)
		}
	})
	sg.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Warnf("收到信号 %s，开始停机", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("关闭 HTTP 服务失败: %v", err)
	}
	if err := hub.Close(); err != nil {
		logger.Errorf("关闭消息中枢失败: %v", err)
	}
	sg.Wait()
}
