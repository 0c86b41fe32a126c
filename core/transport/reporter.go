package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"BridgeFM/cache"
	"BridgeFM/core/sched"
	"BridgeFM/logger"
	"BridgeFM/model"
)

// DefaultDedupWindow 相同曲目在该窗口内重复提交会被抑制
const DefaultDedupWindow = 5 * time.Second

// ReporterConfig 上报器配置
type ReporterConfig struct {
	BaseURL   string
	APIKey    string // X-Bridge-API-Key 请求头
	EventCode string
	Source    string

	RequestTimeout    time.Duration   // 单次请求超时，默认 10s
	PostRetryDelays   []time.Duration // POST 重试间隔，默认 2s/4s/8s
	DeleteRetryDelays []time.Duration // DELETE 重试间隔，默认 1s/2s
	HistoryCapacity   int
	DedupWindow       time.Duration
}

// Reporter 后端上报器
// 所有调用先过熔断器，失败按退避策略重试，耗尽后返回 false 而不抛错
type Reporter struct {
	mu  sync.Mutex
	cfg ReporterConfig

	client    *http.Client
	breaker   *Breaker
	history   *HistoryBuffer
	scheduler sched.Scheduler
	pending   *cache.ReportCache

	ctx    context.Context
	cancel context.CancelFunc

	// 去重依据：最近一次成功发起的上报
	lastArtist    string
	lastTitle     string
	lastSubmitted time.Time
}

// NewReporter 创建上报器
// pending 可为 nil；非 nil 时重放缓冲在进程重启后从 redis 恢复
func NewReporter(cfg ReporterConfig, breaker *Breaker, scheduler sched.Scheduler, pending *cache.ReportCache) *Reporter {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if len(cfg.PostRetryDelays) == 0 {
		cfg.PostRetryDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	}
	if len(cfg.DeleteRetryDelays) == 0 {
		cfg.DeleteRetryDelays = []time.Duration{1 * time.Second, 2 * time.Second}
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if cfg.Source == "" {
		cfg.Source = "serato"
	}
	if scheduler == nil {
		scheduler = sched.New()
	}
	if breaker == nil {
		breaker = NewBreaker(DefaultFailureThreshold, DefaultCooldown, scheduler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		breaker:   breaker,
		history:   NewHistoryBuffer(cfg.HistoryCapacity),
		scheduler: scheduler,
		pending:   pending,
		ctx:       ctx,
		cancel:    cancel,
	}

	// 恢复上次进程遗留的积压
	if restored, err := pending.Load(); err != nil {
		logger.Warn("failed to restore pending reports", logger.ErrorField(err))
	} else {
		for _, p := range restored {
			r.history.Append(p)
		}
		if len(restored) > 0 {
			logger.Info("restored pending reports", logger.Int("count", len(restored)))
		}
	}

	breaker.SetOnClose(r.replayHistory)
	return r
}

// Breaker 暴露熔断器供检视和复位
func (r *Reporter) Breaker() *Breaker {
	return r.breaker
}

// PendingCount 返回重放缓冲积压条数
func (r *Reporter) PendingCount() int {
	return r.history.Len()
}

// Close 取消所有在途请求与退避等待
func (r *Reporter) Close() {
	r.cancel()
}

// PostNowPlaying 上报正在播放的曲目
// 空标题直接抑制；5 秒内重复的 (artist, title) 抑制；失败时返回 false
func (r *Reporter) PostNowPlaying(title, artist, album, deck string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}

	r.mu.Lock()
	artistKey := strings.ToLower(strings.TrimSpace(artist))
	titleKey := strings.ToLower(title)
	now := r.scheduler.Now()
	if artistKey == r.lastArtist && titleKey == r.lastTitle &&
		now.Sub(r.lastSubmitted) < r.cfg.DedupWindow {
		r.mu.Unlock()
		logger.Debug("now playing suppressed as duplicate",
			logger.String("title", title), logger.String("artist", artist))
		return true
	}
	r.lastArtist = artistKey
	r.lastTitle = titleKey
	r.lastSubmitted = now
	r.mu.Unlock()

	payload := model.NowPlayingPayload{
		EventCode: r.cfg.EventCode,
		Title:     title,
		Artist:    artist,
		Album:     model.StringPtr(album),
		Deck:      model.StringPtr(deck),
		Source:    model.StringPtr(r.cfg.Source),
	}

	if !r.breaker.Allow() {
		// 熔断中不碰网络，载荷进入重放缓冲等待恢复
		logger.Debug("now playing post short-circuited by open breaker")
		r.bufferPayload(payload)
		return false
	}

	if r.postJSON(r.nowPlayingURL(), payload, r.cfg.PostRetryDelays) {
		r.breaker.RecordSuccess()
		return true
	}

	r.breaker.RecordFailure()
	if r.breaker.State() == BreakerOpen {
		r.bufferPayload(payload)
	}
	logger.Error("now playing post failed after retries",
		logger.String("title", title), logger.String("artist", artist))
	return false
}

// ClearNowPlaying 清除后端的正在播放记录
func (r *Reporter) ClearNowPlaying() {
	r.mu.Lock()
	r.lastArtist = ""
	r.lastTitle = ""
	r.mu.Unlock()

	if !r.breaker.Allow() {
		logger.Debug("now playing clear short-circuited by open breaker")
		return
	}

	url := fmt.Sprintf("%s/%s", r.nowPlayingURL(), r.cfg.EventCode)
	if r.sendWithRetry(http.MethodDelete, url, nil, r.cfg.DeleteRetryDelays) {
		r.breaker.RecordSuccess()
		return
	}
	r.breaker.RecordFailure()
	logger.Error("now playing clear failed after retries")
}

// PostBridgeStatus 上报桥接器连接状态
func (r *Reporter) PostBridgeStatus(connected bool, deviceName string) bool {
	payload := model.BridgeStatusPayload{
		EventCode:  r.cfg.EventCode,
		Connected:  connected,
		DeviceName: model.StringPtr(deviceName),
	}

	if !r.breaker.Allow() {
		logger.Debug("bridge status post short-circuited by open breaker")
		return false
	}

	if r.postJSON(r.statusURL(), payload, r.cfg.PostRetryDelays) {
		r.breaker.RecordSuccess()
		return true
	}
	r.breaker.RecordFailure()
	logger.Error("bridge status post failed after retries",
		logger.Bool("connected", connected))
	return false
}

// ========== 重放 ==========

// replayHistory 熔断器恢复后按原始顺序重放积压载荷
func (r *Reporter) replayHistory() {
	items := r.history.DrainAll()
	if len(items) == 0 {
		return
	}
	logger.Info("replaying buffered reports", logger.Int("count", len(items)))

	for i, p := range items {
		p.Delayed = true
		if !r.postJSON(r.nowPlayingURL(), p, r.cfg.PostRetryDelays) {
			// 后端又倒了，剩余载荷放回队首等下次恢复
			remaining := items[i:]
			r.history.PushFront(remaining)
			r.breaker.RecordFailure()
			logger.Warn("replay interrupted, reports re-buffered",
				logger.Int("remaining", len(remaining)))
			r.mirrorPending()
			return
		}
	}
	r.mirrorPending()
}

// bufferPayload 载荷进入重放缓冲并镜像到持久缓存
func (r *Reporter) bufferPayload(p model.NowPlayingPayload) {
	r.history.Append(p)
	r.mirrorPending()
}

func (r *Reporter) mirrorPending() {
	if err := r.pending.Save(r.history.Items()); err != nil {
		logger.Warn("failed to mirror pending reports", logger.ErrorField(err))
	}
}

// ========== HTTP ==========

func (r *Reporter) nowPlayingURL() string {
	return strings.TrimRight(r.cfg.BaseURL, "/") + "/api/bridge/nowplaying"
}

func (r *Reporter) statusURL() string {
	return strings.TrimRight(r.cfg.BaseURL, "/") + "/api/bridge/status"
}

func (r *Reporter) postJSON(url string, payload interface{}, delays []time.Duration) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal report payload", logger.ErrorField(err))
		return false
	}
	return r.sendWithRetry(http.MethodPost, url, body, delays)
}

// sendWithRetry 先尝试一次，失败后按给定间隔重试
// 超时与网络错误同等对待；只看 HTTP 状态码，2xx 即成功
func (r *Reporter) sendWithRetry(method, url string, body []byte, delays []time.Duration) bool {
	for attempt := 0; ; attempt++ {
		if r.sendOnce(method, url, body) {
			return true
		}
		if attempt >= len(delays) {
			return false
		}

		select {
		case <-r.ctx.Done():
			// 进程关闭，在途等待立即结束并按失败处理
			return false
		case <-time.After(delays[attempt]):
		}
	}
}

func (r *Reporter) sendOnce(method, url string, body []byte) bool {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(r.ctx, method, url, reader)
	if err != nil {
		logger.Error("failed to build report request", logger.ErrorField(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("X-Bridge-API-Key", r.cfg.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		logger.Debug("report request failed",
			logger.String("method", method), logger.ErrorField(err))
		return false
	}
	defer resp.Body.Close()

	// 响应体不检查，只看状态码
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Debug("report request rejected",
			logger.String("method", method), logger.Int("status", resp.StatusCode))
		return false
	}
	return true
}
