package server

import (
	"context"
	"net/http"

	"chroma-key/app/config"
	"chroma-key/app/database"
	"chroma-key/app/handler"
	"chroma-key/app/logger"
	"chroma-key/app/queue"
	"chroma-key/app/registry"
	"chroma-key/app/storage"

	"github.com/gin-gonic/gin"
)

// Server 表示 HTTP 服务器
type Server struct {
	Config *config.Config
	Logger *logger.Logger
	gin    *gin.Engine
	http   *http.Server
}

// New 创建一个新的 Server 实例
func New(cfg *config.Config, log *logger.Logger, reg *registry.Registry, store *storage.Store, q *queue.Queue) *Server {
	router := gin.Default()

	// 请求体大小由上传处理器按配置校验，这里只设一个兜底上限
	router.MaxMultipartMemory = 32 << 20

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		Config: cfg,
		Logger: log,
	}

	// 设置路由
	s.setupRoutes(reg, store, q)

	return s
}

// Start 启动服务器
func (s *Server) Start() error {
	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// 关闭数据库连接
	if err := database.Close(); err != nil {
		s.Logger.Errorf("关闭数据库连接失败: %v", err)
	}
	return s.http.Shutdown(ctx)
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes(reg *registry.Registry, store *storage.Store, q *queue.Queue) {
	taskHandler := handler.NewTaskHandler(s.Config, reg, store, q, s.Logger)

	s.gin.POST("/upload", taskHandler.Upload)
	s.gin.GET("/status/:taskId", taskHandler.Status)
	s.gin.GET("/download/:fileName", taskHandler.Download)
	s.gin.GET("/test", taskHandler.Test)
}
