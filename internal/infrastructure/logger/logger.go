package logger

import (
	"os"

	"envoearn/internal/config"

	log "github.com/sirupsen/logrus"
)

// Init 按配置初始化全局 logrus
// 各组件直接使用 logrus 标准 logger，日志前缀沿用 [组件名] 的写法
func Init(cfg *config.LogConfig) {
	log.SetOutput(os.Stdout)

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}
}
