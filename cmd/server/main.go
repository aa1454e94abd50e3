package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"envoearn/internal/config"
	"envoearn/internal/handler"
	"envoearn/internal/infrastructure/cache"
	"envoearn/internal/infrastructure/database"
	"envoearn/internal/infrastructure/logger"
	"envoearn/internal/infrastructure/mq"
	"envoearn/internal/infrastructure/storage"
	"envoearn/internal/job"
	"envoearn/internal/realtime"
	"envoearn/internal/service"
	"envoearn/pkg/idgen"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg := config.LoadConfig(*configPath)
	logger.Init(&cfg.Log)

	if !cfg.AdminEnabled() {
		log.Warn("未配置 backend.service_key，管理端和投资提交不可用")
	}

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL, &cfg.Log)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	producer := mq.InitKafka(&cfg.Kafka)
	defer producer.Close()

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 对象存储，未配置时投资提交返回“管理客户端不可用”
	var store service.ObjectStore
	s3Store, err := storage.NewS3Store(ctx, &cfg.Storage, cfg.Backend.URL)
	switch {
	case err == nil:
		store = s3Store
	case errors.Is(err, storage.ErrStorageNotConfigured):
		log.Warn("对象存储未配置，投资提交不可用")
	default:
		log.Fatalf("初始化对象存储失败: %v", err)
	}

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, producer, cfg)
	go outboxSender.Start(ctx)

	earningsScheduler := job.NewEarningsScheduler(service.NewEarningsService(db, redisClient, cfg), cfg)
	if err := earningsScheduler.Start(ctx); err != nil {
		log.Fatalf("启动每日收益定时任务失败: %v", err)
	}

	// 实时推送：Kafka 行变更 -> websocket
	hub := realtime.NewHub(0)
	group, err := mq.NewConsumerGroup(&cfg.Kafka)
	if err != nil {
		log.Fatalf("创建 Kafka 消费者组失败: %v", err)
	}
	go realtime.NewConsumer(hub).Run(ctx, group, []string{cfg.Kafka.Topic.RowChanges})

	// 设置路由
	h := handler.NewHandler(db, redisClient, store, hub, cfg)
	router := handler.SetupRouter(h, cfg)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()
	earningsScheduler.Stop()
	hub.Close()
	if err := group.Close(); err != nil {
		log.Printf("关闭 Kafka 消费者组失败: %v", err)
	}

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
