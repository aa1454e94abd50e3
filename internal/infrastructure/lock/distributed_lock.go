package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 【用在哪里？】
//
// 1. 每日收益：定时任务和管理员手动触发可能同时跑同一天
//      run1: 查活跃用户 -> 每人 +100
//      run2: 查活跃用户 -> 每人再 +100   重复入账！
//    按日期加锁，同一天同一时刻只有一个批次在跑。
//
// 2. 注册认领：同一笔已批准投资被两个注册请求同时认领
//    按投资 id 加锁，配合 user_id IS NULL 的条件更新兜底。
//
// 3. 提现审核：管理员双击“批准”
//    按提现单 id 加锁，配合 status = pending 的条件更新兜底。
//
// 锁只是减少冲突，真正的正确性由数据库条件更新和唯一索引保证。
//
// 加锁：SET key value NX EX timeout
// 解锁：Lua 脚本比对 value 后再 DEL，避免误删别人的锁
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁持有者标识
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// Key 锁的 key
func (l *DistributedLock) Key() string {
	return l.key
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	_, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 业务锁
// ============================================================================

// NewEarningsRunLock 每日收益批次锁（按业务日期）
// 过期时间要覆盖整批更新，批量 SQL 在分钟级以内
func NewEarningsRunLock(client *redis.Client, runDate, owner string) *DistributedLock {
	return NewDistributedLock(client, fmt.Sprintf("earnings:lock:date:%s", runDate), owner, 10*time.Minute)
}

// NewInvestmentClaimLock 投资认领锁（按投资 id）
func NewInvestmentClaimLock(client *redis.Client, investmentID int64, owner string) *DistributedLock {
	return NewDistributedLock(client, fmt.Sprintf("register:lock:investment:%d", investmentID), owner, 30*time.Second)
}

// NewWithdrawalReviewLock 提现审核锁（按提现单 id）
func NewWithdrawalReviewLock(client *redis.Client, withdrawalID int64, owner string) *DistributedLock {
	return NewDistributedLock(client, fmt.Sprintf("withdraw:lock:review:%d", withdrawalID), owner, 30*time.Second)
}

// NewWithdrawalRequestLock 提现申请锁（按用户），防止并发提交出两笔 pending
func NewWithdrawalRequestLock(client *redis.Client, userID, owner string) *DistributedLock {
	return NewDistributedLock(client, fmt.Sprintf("withdraw:lock:user:%s", userID), owner, 30*time.Second)
}
