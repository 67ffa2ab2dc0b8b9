// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pai-kb-go/internal/app"
	"pai-kb-go/internal/config"
	"pai-kb-go/internal/handler"
	"pai-kb-go/internal/middleware"
	"pai-kb-go/pkg/log"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化存储、外部客户端和各层服务
	a, err := app.New(cfg)
	if err != nil {
		log.Fatal("应用初始化失败", err)
	}
	a.StartProgressReceiver()

	// 4. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	registerRoutes(r, a)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 等待正在进行的导入任务结束
	a.Close()
	log.Info("服务已优雅关闭")
}

func registerRoutes(r *gin.Engine, a *app.App) {
	userHandler := handler.NewUserHandler(a.Users)
	knowledgeHandler := handler.NewKnowledgeHandler(a.Ingestion, a.Knowledge, a.Config.Ingestion.MaxFileMB)
	chatHandler := handler.NewChatHandler(a.Chats, a.Users, a.JWT)
	fileHandler := handler.NewFileHandler(a.Knowledge)
	auth := middleware.AuthMiddleware(a.JWT, a.Users)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/auth/refreshToken", userHandler.RefreshToken)

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			authed := users.Group("/")
			authed.Use(auth)
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.POST("/logout", userHandler.Logout)
			}
		}

		knowledge := apiV1.Group("/knowledge")
		knowledge.Use(auth)
		{
			knowledge.POST("", knowledgeHandler.Create)
			knowledge.GET("", knowledgeHandler.List)
			knowledge.GET("/progress", knowledgeHandler.Progress)
			knowledge.GET("/progress/stream", knowledgeHandler.ProgressStream)
			knowledge.DELETE("/:id", knowledgeHandler.Delete)
		}

		chats := apiV1.Group("/chats")
		chats.Use(auth)
		{
			chats.POST("", chatHandler.Create)
			chats.GET("", chatHandler.List)
			chats.GET("/:id/messages", chatHandler.Messages)
			chats.DELETE("/:id", chatHandler.Delete)
		}

		apiV1.GET("/files/*path", auth, fileHandler.Download)
	}

	// WebSocket 在握手阶段通过路径中的 token 认证
	r.GET("/chat/:token", chatHandler.Handle)
}
