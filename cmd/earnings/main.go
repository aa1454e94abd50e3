// earnings 单次发放每日收益，供外部调度器或补发使用
//
//	go run ./cmd/earnings -date 2026-03-01
package main

import (
	"context"
	"errors"
	"flag"
	"time"
	_ "time/tzdata"

	"envoearn/internal/config"
	"envoearn/internal/infrastructure/cache"
	"envoearn/internal/infrastructure/database"
	"envoearn/internal/infrastructure/logger"
	"envoearn/internal/service"
	"envoearn/pkg/idgen"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	runDate := flag.String("date", "", "业务日期 YYYY-MM-DD，默认业务时区的今天")
	flag.Parse()

	cfg := config.LoadConfig(*configPath)
	logger.Init(&cfg.Log)
	idgen.Init(2)

	db := database.InitMySQL(&cfg.MySQL, &cfg.Log)
	redisClient := cache.InitRedis(&cfg.Redis)
	defer redisClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	run, err := service.NewEarningsService(db, redisClient, cfg).RunDailyEarnings(ctx, *runDate)
	switch {
	case err == nil:
		log.Printf("发放完成: date=%s, runNo=%s, users=%d, amount=%d", run.RunDate, run.RunNo, run.CreditedUsers, run.CreditedAmount)
	case errors.Is(err, service.ErrRunAlreadyProcessed):
		log.Printf("该日期已发放，无需重复执行: date=%s", run.RunDate)
	default:
		log.Fatalf("发放失败: %v", err)
	}
}
