package idgen

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 【为什么需要分布式ID？】
//
// 提现单号、收益批次号要求：
//   1. 全局唯一 - 不能重复
//   2. 趋势递增 - 便于数据库索引
//   3. 不暴露业务量 - 用户看到的单号不能推算出总提现笔数
//
// 【雪花算法结构】64位
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//   |   |            |            |
//   |   |            |            +-- 同一毫秒内的序列号（0-4095）
//   |   |            +-- 机器ID（0-1023）
//   |   +-- 毫秒级时间戳（可用约69年）
//   +-- 符号位，始终为0
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 起始时间戳（2024-01-01 00:00:00 UTC）
	workerIDBits   = 10                   // 机器ID位数
	sequenceBits   = 12                   // 序列号位数
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// Init 初始化默认ID生成器
func Init(workerID int64) {
	once.Do(func() {
		if workerID < 0 || workerID > maxWorkerID {
			log.Fatalf("workerID 必须在 0-%d 之间", maxWorkerID)
		}
		defaultGenerator = &Snowflake{workerID: workerID}
	})
}

// NextID 生成下一个ID，未显式 Init 时使用 workerID = 1
func NextID() int64 {
	Init(1)
	return defaultGenerator.Generate()
}

// Generate 生成ID
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	// 时钟回拨时沿用上一次的时间戳，靠序列号区分
	if now < s.timestamp {
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) | (s.workerID << workerIDShift) | s.sequence
}

// 业务单号格式：前缀 + 年月日时分秒 + 雪花ID后8位
// 例如：WDR2026101814305212345678
func generateNo(prefix string) string {
	id := NextID()
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf("%s%s%08d", prefix, timestamp, id%100000000)
}

// GenerateWithdrawalNo 生成提现单号
func GenerateWithdrawalNo() string {
	return generateNo("WDR")
}

// GenerateRunNo 生成每日收益批次号
func GenerateRunNo() string {
	return generateNo("ERN")
}

const referralAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateReferralCode 推荐码：名字的第一个词（小写）+ 4 位随机字符
// 例如 "Ayesha Khan" -> ayesha7k2q
// 推荐码有唯一索引，调用方遇到冲突重新生成即可
func GenerateReferralCode(fullName string) string {
	prefix := "user"
	if fields := strings.Fields(fullName); len(fields) > 0 {
		var b strings.Builder
		for _, r := range strings.ToLower(fields[0]) {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			prefix = b.String()
		}
	}
	if len(prefix) > 24 {
		prefix = prefix[:24]
	}

	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = referralAlphabet[rand.IntN(len(referralAlphabet))]
	}
	return prefix + string(suffix)
}
