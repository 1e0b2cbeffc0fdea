package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chroma-key/app/config"
	"chroma-key/app/database"
	"chroma-key/app/engine"
	"chroma-key/app/logger"
	"chroma-key/app/queue"
	"chroma-key/app/registry"
	"chroma-key/app/server"
	"chroma-key/app/service"
	"chroma-key/app/storage"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动服务器",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		// 创建日志器
		log := logger.New(cfg.Log)
		defer log.Sync()

		// 初始化数据库
		if err := database.Init(log); err != nil {
			log.Fatalf("数据库初始化失败: %v", err)
		}

		// 初始化产物存储
		store, err := storage.New(cfg.Processing.Root, log)
		if err != nil {
			log.Fatalf("产物存储初始化失败: %v", err)
		}

		reg := registry.New(database.GetDB(), log)

		// 恢复扫描必须在队列接收作业之前完成
		scanner := service.NewRecoveryScanner(reg, store, log)
		if err := scanner.Scan(); err != nil {
			log.Fatalf("恢复扫描失败: %v", err)
		}

		// 组装处理流水线
		eng := engine.NewFFmpeg(&cfg.Processing, store, log)
		notifier := service.NewNotifier(cfg.Notify, log)
		q := queue.New(&cfg.Processing, reg, store, eng, log, notifier.TaskFinished)
		q.Start()

		// 启动定期清扫
		janitor := service.NewJanitor(&cfg.Processing, reg, store, log)
		if err := janitor.Start(); err != nil {
			log.Fatalf("启动临时文件清扫失败: %v", err)
		}

		srv := server.New(cfg, log, reg, store, q)

		// 在协程中启动服务器
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("启动服务器失败: %v", err)
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("收到关闭信号，正在关闭服务器...")

		janitor.Stop()
		q.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("服务器关闭失败: %v", err)
		}
		log.Info("服务器已退出")
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
