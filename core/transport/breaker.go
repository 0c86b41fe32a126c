package transport

import (
	"sync"
	"time"

	"BridgeFM/core/sched"
	"BridgeFM/logger"
)

// BreakerState 熔断器状态
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"    // 正常放行
	BreakerOpen     BreakerState = "OPEN"      // 熔断中，冷却期内直接拒绝
	BreakerHalfOpen BreakerState = "HALF_OPEN" // 冷却结束，放行一次探测
)

const (
	// DefaultFailureThreshold 连续失败多少次后熔断
	DefaultFailureThreshold = 3
	// DefaultCooldown 熔断冷却时长
	DefaultCooldown = 60 * time.Second
)

// Breaker 传输层熔断器
// 进程内只创建一次，与进程同生命周期
type Breaker struct {
	mu                  sync.Mutex
	scheduler           sched.Scheduler
	state               BreakerState
	consecutiveFailures int
	probeInFlight       bool
	failureThreshold    int
	cooldown            time.Duration
	openedAt            time.Time

	// onClose 在熔断器经成功探测回到 CLOSED 时触发，重放缓冲靠它驱动
	onClose func()
}

// NewBreaker 创建熔断器
func NewBreaker(failureThreshold int, cooldown time.Duration, scheduler sched.Scheduler) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if scheduler == nil {
		scheduler = sched.New()
	}
	return &Breaker{
		scheduler:        scheduler,
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// SetOnClose 注册恢复回调
func (b *Breaker) SetOnClose(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onClose = fn
}

// Allow 询问是否放行本次调用
// OPEN 状态冷却期满后只放行一个探测请求，探测进行中的并发调用被拒绝
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.scheduler.Now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.probeInFlight = true
		logger.Info("circuit breaker half-open, probing backend")
		return true
	case BreakerHalfOpen:
		return !b.probeInFlight
	}
	return false
}

// RecordSuccess 记录一次成功结果，熔断器闭合并清零失败计数
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	wasOpen := b.state != BreakerClosed
	b.state = BreakerClosed
	b.consecutiveFailures = 0
	b.probeInFlight = false
	fn := b.onClose
	b.mu.Unlock()

	if wasOpen {
		logger.Info("circuit breaker closed")
		if fn != nil {
			// 回调在锁外执行，重放会重新进入传输层
			fn()
		}
	}
}

// RecordFailure 记录一次失败结果
// CLOSED 下累计到阈值熔断，HALF_OPEN 探测失败重新熔断并重置冷却
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = b.scheduler.Now()
		b.probeInFlight = false
		logger.Warn("circuit breaker probe failed, reopening")
	case BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = BreakerOpen
			b.openedAt = b.scheduler.Now()
			logger.Warn("circuit breaker opened",
				logger.Int("consecutiveFailures", b.consecutiveFailures))
		}
	}
}

// Reset 回到初始 CLOSED 状态，不触发任何回调
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.consecutiveFailures = 0
	b.probeInFlight = false
}

// State 返回当前状态
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures 返回当前连续失败计数
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}
