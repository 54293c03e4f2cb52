// Package monitor 提供模拟运行状态的只读 HTTP 查询接口
package monitor

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/swarmbot/gosim/internal/reporter"
	"github.com/swarmbot/gosim/pkg/logger"
)

// Server 状态查询服务
type Server struct {
	addr     string
	reporter *reporter.Reporter
	log      *logrus.Entry
	srv      *http.Server
}

// NewServer 创建状态查询服务
func NewServer(addr string, rep *reporter.Reporter) *Server {
	return &Server{
		addr:     addr,
		reporter: rep,
		log:      logger.WithField("component", "monitor"),
	}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	api := router.Group("/api")
	{
		api.GET("/summary", s.handleSummary)
		api.GET("/trades", s.handleTrades)
		api.GET("/stats", s.handleStats)
	}
	return router
}

// Start 启动 HTTP 服务，立即返回；失败只记录日志，不影响模拟
func (s *Server) Start() {
	s.srv = &http.Server{Addr: s.addr, Handler: s.router()}
	go func() {
		s.log.Infof("状态查询服务启动: %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("状态查询服务异常退出: %v", err)
		}
	}()
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Errorf("关闭状态查询服务失败: %v", err)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleSummary(c *gin.Context) {
	rep := s.reporter.Build()
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleTrades(c *gin.Context) {
	trades := s.reporter.Trades()
	// 最新的放前面，默认最多返回 100 条
	limit := 100
	if len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(trades),
		"trades": trades,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"snapshots": s.reporter.Snapshots(),
	})
}
