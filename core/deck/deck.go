package deck

import (
	"BridgeFM/core/sched"
	"BridgeFM/model"
)

// State 甲板状态
type State string

const (
	StateEmpty   State = "EMPTY"   // 未加载曲目
	StateLoaded  State = "LOADED"  // 已加载，未播放
	StateCueing  State = "CUEING"  // 播放中，尚未达到判定阈值
	StatePlaying State = "PLAYING" // 已判定为正在播放
	StateEnded   State = "ENDED"   // 播放结束
)

// Config 状态机配置，构造后不可变
type Config struct {
	LiveThresholdSeconds   int  // 连续播放判定阈值
	PauseGraceSeconds      int  // 暂停容忍窗口
	NowPlayingPauseSeconds int  // 当前甲板推子归零后的切换等待
	UseFaderDetection      bool // 推子为 0 时不判定为正在播放
	MasterDeckPriority     bool // 只有主甲板可判定为正在播放
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		LiveThresholdSeconds:   15,
		PauseGraceSeconds:      3,
		NowPlayingPauseSeconds: 10,
		UseFaderDetection:      false,
		MasterDeckPriority:     false,
	}
}

// Listener 状态机事件监听器
type Listener interface {
	// DeckLive 某甲板被判定为正在播放
	DeckLive(deckID string, track model.TrackInfo)
	// NowPlayingCleared 当前正在播放甲板被清除且无接替者
	NowPlayingCleared()
}

// Snapshot 甲板状态快照，GetDeckState 返回值
type Snapshot struct {
	ID                string           `json:"id"`
	State             State            `json:"state"`
	Track             *model.TrackInfo `json:"track"`
	FaderLevel        float64          `json:"faderLevel"`
	IsMaster          bool             `json:"isMaster"`
	AccumulatedPlayMs int64            `json:"accumulatedPlayMs"`
	Reported          bool             `json:"reported"`
}

// deckState 单个甲板的内部状态，仅由 Manager 持有
type deckState struct {
	id                string
	state             State
	track             *model.TrackInfo
	faderLevel        float64
	isMaster          bool
	accumulatedPlayMs int64
	playStartTime     int64 // UnixMilli，未播放时为 0
	reported          bool
	ready             bool // 已过阈值但被推子/主甲板条件拦住
	playPaused        bool // PLAYING 暂停中，仍在容忍窗口内

	cueGrace  sched.Handle // CUEING 暂停后清零累计时间的定时器
	playGrace sched.Handle // PLAYING 暂停后转 ENDED 的定时器
	threshold sched.Handle // 阈值判定定时器
}

func newDeckState(id string) *deckState {
	return &deckState{
		id:         id,
		state:      StateEmpty,
		faderLevel: 1.0,
	}
}

// cancelTimers 取消该甲板所有未触发的定时器
func (d *deckState) cancelTimers() {
	if d.cueGrace != nil {
		d.cueGrace.Cancel()
		d.cueGrace = nil
	}
	if d.playGrace != nil {
		d.playGrace.Cancel()
		d.playGrace = nil
	}
	if d.threshold != nil {
		d.threshold.Cancel()
		d.threshold = nil
	}
}

// snapshot 导出当前状态
func (d *deckState) snapshot() Snapshot {
	var track *model.TrackInfo
	if d.track != nil {
		t := *d.track
		track = &t
	}
	return Snapshot{
		ID:                d.id,
		State:             d.state,
		Track:             track,
		FaderLevel:        d.faderLevel,
		IsMaster:          d.isMaster,
		AccumulatedPlayMs: d.accumulatedPlayMs,
		Reported:          d.reported,
	}
}
