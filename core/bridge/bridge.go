package bridge

import (
	"sync"

	"BridgeFM/core/deck"
	"BridgeFM/core/transport"
	"BridgeFM/logger"
	"BridgeFM/model"
)

// Observer 桥接层对外事件订阅，本地状态服务用它推送
type Observer interface {
	// NowPlaying 新的正在播放曲目
	NowPlaying(deckID string, track model.TrackInfo)
	// NowPlayingCleared 正在播放被清除
	NowPlayingCleared()
	// Connection 设备连接状态变化
	Connection(connected bool, deviceName string)
}

// Bridge 把适配器事件接入状态机，并把状态机结论上报后端
// 适配器缺少播放状态能力时，按曲目事件合成立即播放信号
type Bridge struct {
	mu        sync.Mutex
	adapter   Adapter
	manager   *deck.Manager
	reporter  *transport.Reporter
	caps      Capabilities
	observers []Observer

	connected  bool
	deviceName string
}

// New 创建桥接器并挂接状态机监听
func New(adapter Adapter, manager *deck.Manager, reporter *transport.Reporter) *Bridge {
	b := &Bridge{
		adapter:  adapter,
		manager:  manager,
		reporter: reporter,
		caps:     adapter.Capabilities(),
	}
	manager.AddListener(b)
	return b
}

// AddObserver 注册对外事件订阅者
func (b *Bridge) AddObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Start 启动适配器
func (b *Bridge) Start() error {
	return b.adapter.Start(b)
}

// Stop 停止适配器并上报离线
func (b *Bridge) Stop() {
	b.adapter.Stop()

	b.mu.Lock()
	wasConnected := b.connected
	b.connected = false
	b.mu.Unlock()

	if wasConnected {
		b.reporter.PostBridgeStatus(false, "")
	}
}

// Manager 暴露状态机供检视
func (b *Bridge) Manager() *deck.Manager {
	return b.manager
}

// Reporter 暴露上报器供检视
func (b *Bridge) Reporter() *transport.Reporter {
	return b.reporter
}

// Status 返回设备连接状态与名称
func (b *Bridge) Status() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected, b.deviceName
}

// ========== 适配器事件（Listener） ==========

// OnTrack 曲目事件进状态机；适配器无播放状态能力时合成播放信号
func (b *Bridge) OnTrack(deckID string, track *model.TrackInfo) {
	if err := b.manager.UpdateTrackInfo(deckID, track); err != nil {
		logger.Error("track update rejected",
			logger.String("deck", deckID), logger.ErrorField(err))
		return
	}
	if track != nil && !b.caps.PlayState {
		if err := b.manager.UpdatePlayState(deckID, true); err != nil {
			logger.Error("synthesized play state rejected",
				logger.String("deck", deckID), logger.ErrorField(err))
		}
	}
}

// OnPlayState 播放状态事件进状态机
func (b *Bridge) OnPlayState(deckID string, isPlaying bool) {
	if err := b.manager.UpdatePlayState(deckID, isPlaying); err != nil {
		logger.Error("play state update rejected",
			logger.String("deck", deckID), logger.ErrorField(err))
	}
}

// OnFader 推子事件进状态机
func (b *Bridge) OnFader(deckID string, level float64) {
	if err := b.manager.UpdateFaderLevel(deckID, level); err != nil {
		logger.Error("fader update rejected",
			logger.String("deck", deckID), logger.ErrorField(err))
	}
}

// OnMasterDeck 主甲板事件进状态机
func (b *Bridge) OnMasterDeck(deckID string) {
	if err := b.manager.SetMasterDeck(deckID); err != nil {
		logger.Error("master deck update rejected",
			logger.String("deck", deckID), logger.ErrorField(err))
	}
}

// OnConnection 连接状态上报后端并广播
func (b *Bridge) OnConnection(connected bool, deviceName string) {
	b.mu.Lock()
	b.connected = connected
	b.deviceName = deviceName
	observers := b.copyObservers()
	b.mu.Unlock()

	logger.Info("device connection changed",
		logger.Bool("connected", connected),
		logger.String("device", deviceName))

	// 上报是阻塞重试调用，不挡适配器的事件循环
	go b.reporter.PostBridgeStatus(connected, deviceName)

	for _, o := range observers {
		o.Connection(connected, deviceName)
	}
}

// OnLog 适配器日志落到统一日志
func (b *Bridge) OnLog(message string) {
	logger.Info("adapter: " + message)
}

// OnReady 适配器就绪
func (b *Bridge) OnReady() {
	logger.Info("adapter ready", logger.String("adapter", b.adapter.Name()))
}

// ========== 状态机事件（deck.Listener） ==========

// DeckLive 状态机判定正在播放，上报后端并广播
func (b *Bridge) DeckLive(deckID string, track model.TrackInfo) {
	logger.Info("deck live",
		logger.String("deck", deckID),
		logger.String("title", track.Title),
		logger.String("artist", track.Artist))

	go b.reporter.PostNowPlaying(track.Title, track.Artist, track.Album, deckID)

	for _, o := range b.observerList() {
		o.NowPlaying(deckID, track)
	}
}

// NowPlayingCleared 状态机清除正在播放，通知后端删除
func (b *Bridge) NowPlayingCleared() {
	logger.Info("now playing cleared")

	go b.reporter.ClearNowPlaying()

	for _, o := range b.observerList() {
		o.NowPlayingCleared()
	}
}

// copyObservers 调用方已持锁
func (b *Bridge) copyObservers() []Observer {
	out := make([]Observer, len(b.observers))
	copy(out, b.observers)
	return out
}

func (b *Bridge) observerList() []Observer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyObservers()
}
