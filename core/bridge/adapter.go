package bridge

import (
	"errors"

	"BridgeFM/model"
)

// ErrAlreadyRunning 适配器已在运行中再次 Start
var ErrAlreadyRunning = errors.New("adapter already running")

// Capabilities 适配器能力声明
// 缺失的能力由桥接层补偿，例如无播放状态时按曲目事件合成
type Capabilities struct {
	MultiDeck     bool `json:"multiDeck"`
	PlayState     bool `json:"playState"`
	FaderLevel    bool `json:"faderLevel"`
	MasterDeck    bool `json:"masterDeck"`
	AlbumMetadata bool `json:"albumMetadata"`
}

// Listener 适配器事件监听器
// 五种归一化事件加自由日志和一次性就绪通知
type Listener interface {
	// OnTrack 甲板曲目变化，nil 表示卸载
	OnTrack(deckID string, track *model.TrackInfo)
	// OnPlayState 甲板播放状态变化
	OnPlayState(deckID string, isPlaying bool)
	// OnFader 甲板推子电平变化，范围 [0,1]
	OnFader(deckID string, level float64)
	// OnMasterDeck 主甲板变更
	OnMasterDeck(deckID string)
	// OnConnection 设备连接状态变化
	OnConnection(connected bool, deviceName string)
	// OnLog 适配器自由日志
	OnLog(message string)
	// OnReady 适配器启动完成，只触发一次
	OnReady()
}

// Adapter 设备协议适配器
// 把设备私有信号归一化为统一事件
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	// Start 启动适配器，已在运行时返回 ErrAlreadyRunning
	Start(l Listener) error
	// Stop 停止适配器，未运行时静默接受
	Stop()
}
