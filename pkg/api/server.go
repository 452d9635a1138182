package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server API服务器
type Server struct {
	router *gin.Engine
	srv    *http.Server
}

// NewServer 创建新的API服务器
func NewServer(port string, readTimeout, writeTimeout time.Duration) *Server {
	router := gin.New()

	// 设置中间件
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	return &Server{
		router: router,
		srv:    srv,
	}
}

// Router 路由，测试用
func (s *Server) Router() *gin.Engine {
	return s.router
}

// SetupRoutes 设置路由
func (s *Server) SetupRoutes(h *Handlers) {
	s.router.GET("/health", h.HealthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", h.GetStatus)

		// 调价器
		v1.GET("/updater/status", h.GetUpdaterStatus)
		v1.POST("/updater/start", h.StartUpdater)
		v1.POST("/updater/stop", h.StopUpdater)

		// 过滤阈值
		v1.GET("/filters", h.GetFilters)
		v1.POST("/filters", h.SetFilters)

		// 黑名单
		v1.GET("/restrictions", h.GetRestrictions)
		v1.POST("/restrictions/advertisers/ban", h.BanAdvertiser)
		v1.POST("/restrictions/advertisers/unban", h.UnbanAdvertiser)
		v1.POST("/restrictions/ads/ban", h.BanListing)
		v1.POST("/restrictions/ads/unban", h.UnbanListing)
		v1.DELETE("/restrictions/bots/:id", h.ClearSuspectedBot)

		v1.GET("/model", h.GetModel)
		v1.GET("/top-price", h.GetTopPrice)
		v1.GET("/leaderboard", h.GetLeaderboard)
		v1.GET("/updates/history", h.GetUpdateHistory)
	}
}

// Start 在后台启动服务器
func (s *Server) Start() {
	go func() {
		log.Printf("API服务器启动在 %s\n", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("启动服务器失败: %v\n", err)
		}
	}()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("正在关闭服务器...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	log.Println("服务器已关闭")
	return nil
}
