package deck

import (
	"errors"
	"sync"
	"time"

	"BridgeFM/core/sched"
	"BridgeFM/logger"
	"BridgeFM/model"
)

// MaxDecks 同时跟踪的甲板上限
const MaxDecks = 16

// ErrAllDecksActive 所有甲板槽位都在播放中，无法再分配
var ErrAllDecksActive = errors.New("all decks are active")

// Manager 甲板状态管理器
// 按甲板吸收归一化事件，过滤试听噪声，并在多甲板间仲裁唯一的"正在播放"
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	scheduler sched.Scheduler
	decks     map[string]*deckState
	order     []string // 创建顺序，淘汰扫描用
	listeners []Listener

	nowPlayingDeckID string       // 当前正在播放的甲板，空串表示无
	switchTimer      sched.Handle // 当前甲板推子归零后的切换定时器
	destroyed        bool

	// 事件在释放锁之后派发，避免监听器回调重入死锁
	pendingEvents []func()
}

// NewManager 创建状态管理器
func NewManager(cfg Config, scheduler sched.Scheduler) *Manager {
	if scheduler == nil {
		scheduler = sched.New()
	}
	return &Manager{
		cfg:       cfg,
		scheduler: scheduler,
		decks:     make(map[string]*deckState),
	}
}

// AddListener 注册事件监听器
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	m.listeners = append(m.listeners, l)
}

// ========== 事件入口 ==========

// UpdateTrackInfo 更新甲板曲目，nil 表示卸载
func (m *Manager) UpdateTrackInfo(deckID string, track *model.TrackInfo) error {
	m.mu.Lock()
	defer m.flush()
	defer m.mu.Unlock()

	if m.destroyed {
		return nil
	}

	d, err := m.getOrCreate(deckID)
	if err != nil {
		return err
	}

	if track == nil {
		m.resetDeck(d)
		return nil
	}

	// 相同曲目重复加载不打断状态机
	if d.track != nil && *d.track == *track && d.state != StateEmpty {
		return nil
	}

	wasIncumbent := m.nowPlayingDeckID == d.id && d.state != StateEmpty

	d.cancelTimers()
	t := *track
	d.track = &t
	d.state = StateLoaded
	d.accumulatedPlayMs = 0
	d.playStartTime = 0
	d.reported = false
	d.ready = false
	d.playPaused = false

	logger.Debug("deck track loaded",
		logger.String("deck", deckID),
		logger.String("title", track.Title),
		logger.String("artist", track.Artist))

	// 当前甲板换曲触发重新选举
	if wasIncumbent {
		m.rescan(d.id)
	}
	return nil
}

// UpdatePlayState 更新甲板播放状态
func (m *Manager) UpdatePlayState(deckID string, isPlaying bool) error {
	m.mu.Lock()
	defer m.flush()
	defer m.mu.Unlock()

	if m.destroyed {
		return nil
	}

	d, err := m.getOrCreate(deckID)
	if err != nil {
		return err
	}

	if isPlaying {
		m.handlePlay(d)
	} else {
		m.handlePause(d)
	}
	return nil
}

// UpdateFaderLevel 更新甲板推子电平，范围 [0,1]
func (m *Manager) UpdateFaderLevel(deckID string, level float64) error {
	m.mu.Lock()
	defer m.flush()
	defer m.mu.Unlock()

	if m.destroyed {
		return nil
	}

	d, err := m.getOrCreate(deckID)
	if err != nil {
		return err
	}

	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	d.faderLevel = level

	// 当前甲板推子归零时启动切换等待，与 UseFaderDetection 无关
	if m.nowPlayingDeckID == d.id {
		if level == 0 {
			if m.switchTimer == nil {
				wait := time.Duration(m.cfg.NowPlayingPauseSeconds) * time.Second
				m.switchTimer = m.scheduler.AfterFunc(wait, func() {
					m.onSwitchTimerFired(d.id)
				})
				logger.Debug("now playing fader dropped, switch timer armed",
					logger.String("deck", d.id))
			}
		} else if m.switchTimer != nil {
			m.switchTimer.Cancel()
			m.switchTimer = nil
		}
	}

	// 已过阈值但被拦住的甲板，条件满足后立即补判
	m.reevaluate(d)
	return nil
}

// SetMasterDeck 设置主甲板，其他甲板的主标志被清除
func (m *Manager) SetMasterDeck(deckID string) error {
	m.mu.Lock()
	defer m.flush()
	defer m.mu.Unlock()

	if m.destroyed {
		return nil
	}

	d, err := m.getOrCreate(deckID)
	if err != nil {
		return err
	}

	for _, other := range m.decks {
		other.isMaster = other == d
	}

	m.reevaluate(d)
	return nil
}

// ========== 查询 ==========

// GetDeckState 获取甲板状态快照，不存在时按需创建
func (m *Manager) GetDeckState(deckID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return Snapshot{ID: deckID, State: StateEmpty, FaderLevel: 1.0}, nil
	}

	d, err := m.getOrCreate(deckID)
	if err != nil {
		return Snapshot{}, err
	}
	return d.snapshot(), nil
}

// GetDeckIDs 返回当前跟踪的甲板 ID，按创建顺序
func (m *Manager) GetDeckIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	return ids
}

// ShouldReportTrack 判断该甲板曲目是否已满足上报条件
func (m *Manager) ShouldReportTrack(deckID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.decks[deckID]
	if !ok || d.track == nil {
		return false
	}
	return (d.state == StatePlaying || d.ready) && m.gatePasses(d)
}

// CurrentNowPlayingDeckID 返回当前正在播放的甲板 ID，无则为空串
func (m *Manager) CurrentNowPlayingDeckID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nowPlayingDeckID
}

// ========== 生命周期 ==========

// Reset 清空全部甲板状态与定时器，保留监听器
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.decks {
		d.cancelTimers()
	}
	if m.switchTimer != nil {
		m.switchTimer.Cancel()
		m.switchTimer = nil
	}
	m.decks = make(map[string]*deckState)
	m.order = nil
	m.nowPlayingDeckID = ""
}

// Destroy 销毁管理器：清空状态、摘除监听器，之后永久失效
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.decks {
		d.cancelTimers()
	}
	if m.switchTimer != nil {
		m.switchTimer.Cancel()
		m.switchTimer = nil
	}
	m.decks = make(map[string]*deckState)
	m.order = nil
	m.nowPlayingDeckID = ""
	m.listeners = nil
	m.destroyed = true
}

// ========== 状态迁移 ==========

func (m *Manager) handlePlay(d *deckState) {
	switch d.state {
	case StateLoaded:
		// 开始或恢复试听，累计时间延续
		if d.cueGrace != nil {
			d.cueGrace.Cancel()
			d.cueGrace = nil
		}
		d.state = StateCueing
		d.playStartTime = m.scheduler.Now().UnixMilli()
		m.armThreshold(d)

	case StatePlaying:
		if d.playPaused {
			d.playPaused = false
			if d.playGrace != nil {
				d.playGrace.Cancel()
				d.playGrace = nil
			}
			d.playStartTime = m.scheduler.Now().UnixMilli()
		}

	case StateEnded:
		// 结束后再次播放，从头累计
		d.state = StateCueing
		d.accumulatedPlayMs = 0
		d.playStartTime = m.scheduler.Now().UnixMilli()
		d.ready = false
		m.armThreshold(d)
	}
}

func (m *Manager) handlePause(d *deckState) {
	switch d.state {
	case StateCueing:
		// 试听暂停：立即回到 LOADED，累计时间进入容忍窗口
		now := m.scheduler.Now().UnixMilli()
		if d.playStartTime > 0 {
			d.accumulatedPlayMs += now - d.playStartTime
		}
		d.playStartTime = 0
		d.state = StateLoaded
		if d.threshold != nil {
			d.threshold.Cancel()
			d.threshold = nil
		}

		grace := time.Duration(m.cfg.PauseGraceSeconds) * time.Second
		deckID := d.id
		d.cueGrace = m.scheduler.AfterFunc(grace, func() {
			m.onCueGraceFired(deckID)
		})

	case StatePlaying:
		if d.playPaused {
			return
		}
		// 正在播放的甲板容忍短暂停顿，窗口内状态不变
		d.playPaused = true
		grace := time.Duration(m.cfg.PauseGraceSeconds) * time.Second
		deckID := d.id
		d.playGrace = m.scheduler.AfterFunc(grace, func() {
			m.onPlayGraceFired(deckID)
		})
	}
}

// armThreshold 安排阈值判定，扣除已累计的播放时间
func (m *Manager) armThreshold(d *deckState) {
	if d.threshold != nil {
		d.threshold.Cancel()
	}
	remaining := time.Duration(m.cfg.LiveThresholdSeconds)*time.Second -
		time.Duration(d.accumulatedPlayMs)*time.Millisecond
	if remaining < 0 {
		remaining = 0
	}
	deckID := d.id
	d.threshold = m.scheduler.AfterFunc(remaining, func() {
		m.onThresholdFired(deckID)
	})
}

func (m *Manager) onThresholdFired(deckID string) {
	m.mu.Lock()
	defer m.flush()
	defer m.mu.Unlock()

	d, ok := m.decks[deckID]
	if !ok || d.state != StateCueing {
		return
	}
	d.threshold = nil

	now := m.scheduler.Now().UnixMilli()
	total := d.accumulatedPlayMs
	if d.playStartTime > 0 {
		total += now - d.playStartTime
	}
	if shortfall := int64(m.cfg.LiveThresholdSeconds)*1000 - total; shortfall > 0 {
		// 时间尚未凑够，按差额重新安排
		d.threshold = m.scheduler.AfterFunc(time.Duration(shortfall)*time.Millisecond, func() {
			m.onThresholdFired(deckID)
		})
		return
	}

	if !m.gatePasses(d) {
		// 阈值已过但被推子/主甲板条件拦住，等后续事件补判
		d.ready = true
		logger.Debug("deck crossed threshold but gated", logger.String("deck", deckID))
		return
	}

	m.promote(d)
}

func (m *Manager) onCueGraceFired(deckID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.decks[deckID]
	if !ok || d.state != StateLoaded {
		return
	}
	d.cueGrace = nil
	// 容忍窗口耗尽，丢弃累计播放时间
	d.accumulatedPlayMs = 0
	d.ready = false
}

func (m *Manager) onPlayGraceFired(deckID string) {
	m.mu.Lock()
	defer m.flush()
	defer m.mu.Unlock()

	d, ok := m.decks[deckID]
	if !ok || d.state != StatePlaying || !d.playPaused {
		return
	}
	d.playGrace = nil
	d.playPaused = false
	d.state = StateEnded
	logger.Debug("deck playback ended", logger.String("deck", deckID))

	if m.nowPlayingDeckID == deckID {
		m.rescan(deckID)
	}
}

func (m *Manager) onSwitchTimerFired(deckID string) {
	m.mu.Lock()
	defer m.flush()
	defer m.mu.Unlock()

	m.switchTimer = nil
	if m.nowPlayingDeckID != deckID {
		return
	}
	d, ok := m.decks[deckID]
	if ok && d.faderLevel > 0 {
		return
	}
	logger.Debug("now playing switch timer fired", logger.String("deck", deckID))
	m.rescan(deckID)
}

// reevaluate 对已过阈值但被拦住的甲板补判
func (m *Manager) reevaluate(d *deckState) {
	if d.ready && d.state == StateCueing && m.gatePasses(d) {
		m.promote(d)
	}
}

// gatePasses 检查推子与主甲板条件
func (m *Manager) gatePasses(d *deckState) bool {
	if m.cfg.UseFaderDetection && d.faderLevel <= 0 {
		return false
	}
	if m.cfg.MasterDeckPriority && !d.isMaster {
		return false
	}
	return true
}

// promote 甲板达到判定条件，进入 PLAYING 并参与仲裁
func (m *Manager) promote(d *deckState) {
	d.state = StatePlaying
	d.ready = false

	if m.nowPlayingDeckID == "" {
		// 无在位者，直接当选
		m.nowPlayingDeckID = d.id
		if !d.reported && d.track != nil {
			d.reported = true
			m.emitDeckLive(d.id, *d.track)
		}
		return
	}
	// 已有在位者时按兵不动，等待重新选举
	logger.Debug("deck promoted but held back",
		logger.String("deck", d.id),
		logger.String("incumbent", m.nowPlayingDeckID))
}

// rescan 重新选举正在播放的甲板，排除 excludeID
// 候选者须处于 PLAYING（暂停但仍在容忍窗口内也算）且满足当前拦截条件
func (m *Manager) rescan(excludeID string) {
	if m.switchTimer != nil {
		m.switchTimer.Cancel()
		m.switchTimer = nil
	}

	for _, id := range m.order {
		if id == excludeID {
			continue
		}
		d := m.decks[id]
		if d.state != StatePlaying || d.track == nil {
			continue
		}
		if !m.gatePasses(d) {
			continue
		}
		m.nowPlayingDeckID = id
		d.reported = true
		m.emitDeckLive(id, *d.track)
		return
	}

	if m.nowPlayingDeckID != "" {
		m.nowPlayingDeckID = ""
		m.emitCleared()
	}
}

// resetDeck 甲板完全复位到 EMPTY，推子与主甲板标志保留
func (m *Manager) resetDeck(d *deckState) {
	wasIncumbent := m.nowPlayingDeckID == d.id

	d.cancelTimers()
	d.track = nil
	d.state = StateEmpty
	d.accumulatedPlayMs = 0
	d.playStartTime = 0
	d.reported = false
	d.ready = false
	d.playPaused = false

	if wasIncumbent {
		m.rescan(d.id)
	}
}

// ========== 槽位管理 ==========

// getOrCreate 获取甲板，必要时创建或淘汰
func (m *Manager) getOrCreate(deckID string) (*deckState, error) {
	if d, ok := m.decks[deckID]; ok {
		return d, nil
	}

	if len(m.decks) >= MaxDecks {
		if err := m.evictOne(); err != nil {
			return nil, err
		}
	}

	d := newDeckState(deckID)
	m.decks[deckID] = d
	m.order = append(m.order, deckID)
	return d, nil
}

// evictOne 按 EMPTY→ENDED→LOADED→CUEING 的优先级淘汰一个甲板
func (m *Manager) evictOne() error {
	for _, victim := range []State{StateEmpty, StateEnded, StateLoaded, StateCueing} {
		for i, id := range m.order {
			d := m.decks[id]
			if d.state != victim {
				continue
			}
			d.cancelTimers()
			delete(m.decks, id)
			m.order = append(m.order[:i], m.order[i+1:]...)
			logger.Debug("deck slot evicted",
				logger.String("deck", id),
				logger.String("state", string(victim)))
			return nil
		}
	}
	return ErrAllDecksActive
}

// ========== 事件派发 ==========

func (m *Manager) emitDeckLive(deckID string, track model.TrackInfo) {
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.pendingEvents = append(m.pendingEvents, func() {
		for _, l := range listeners {
			l.DeckLive(deckID, track)
		}
	})
}

func (m *Manager) emitCleared() {
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.pendingEvents = append(m.pendingEvents, func() {
		for _, l := range listeners {
			l.NowPlayingCleared()
		}
	})
}

// flush 在锁外派发积压事件，必须在解锁之后执行
func (m *Manager) flush() {
	m.mu.Lock()
	events := m.pendingEvents
	m.pendingEvents = nil
	m.mu.Unlock()

	for _, fn := range events {
		fn()
	}
}
