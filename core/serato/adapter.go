package serato

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"BridgeFM/core/bridge"
	"BridgeFM/logger"
	"BridgeFM/model"

	"github.com/fsnotify/fsnotify"
)

// DeviceName 上报给后端的设备名
const DeviceName = "Serato DJ"

const (
	// DefaultPollInterval session 目录默认轮询间隔
	DefaultPollInterval = 1000 * time.Millisecond
	minPollInterval     = 200 * time.Millisecond
	maxPollInterval     = 10000 * time.Millisecond
)

// AdapterConfig 文件监听适配器配置
type AdapterConfig struct {
	Dir          string // Serato session 目录
	PollInterval time.Duration
}

// trackKey 同甲板连续重复判定依据
type trackKey struct {
	title  string
	artist string
}

// Adapter 基于 session 文件轮询的 Serato 适配器
// 轮询目录中最新的 .session 文件，只解析自上次读取后追加的字节
type Adapter struct {
	mu       sync.Mutex
	cfg      AdapterConfig
	listener bridge.Listener
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup

	// 读取游标，按字节偏移而非内容跟踪
	currentPath string
	readOffset  int64
	connected   bool
	stateKnown  bool // 首次轮询无论有无文件都发一次连接事件
	lastByDeck  map[string]trackKey
}

// NewAdapter 创建 Serato 适配器
func NewAdapter(cfg AdapterConfig) *Adapter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollInterval < minPollInterval {
		cfg.PollInterval = minPollInterval
	}
	if cfg.PollInterval > maxPollInterval {
		cfg.PollInterval = maxPollInterval
	}
	return &Adapter{
		cfg:        cfg,
		lastByDeck: make(map[string]trackKey),
	}
}

// Name 返回适配器名称
func (a *Adapter) Name() string {
	return DeviceName
}

// Capabilities Serato session 日志只含曲目与甲板信息
func (a *Adapter) Capabilities() bridge.Capabilities {
	return bridge.Capabilities{
		MultiDeck:     true,
		AlbumMetadata: true,
	}
}

// Start 启动轮询，已在运行时报错
func (a *Adapter) Start(l bridge.Listener) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return bridge.ErrAlreadyRunning
	}
	a.running = true
	a.listener = l
	a.stopCh = make(chan struct{})
	a.currentPath = ""
	a.readOffset = 0
	a.connected = false
	a.stateKnown = false
	a.lastByDeck = make(map[string]trackKey)
	a.mu.Unlock()

	// fsnotify 监听目录变化，文件增删时提前唤醒一次轮询
	// 目录不存在时退化为纯轮询
	var watcher *fsnotify.Watcher
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(a.cfg.Dir); err != nil {
			logger.Debug("session dir watch unavailable, polling only",
				logger.String("dir", a.cfg.Dir), logger.ErrorField(err))
			w.Close()
		} else {
			watcher = w
		}
	}

	a.wg.Add(1)
	go a.loop(l, watcher)

	l.OnLog("serato adapter started, watching " + a.cfg.Dir)
	l.OnReady()
	return nil
}

// Stop 停止轮询，未运行时静默接受
func (a *Adapter) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.stopCh)
	a.mu.Unlock()

	a.wg.Wait()
}

func (a *Adapter) loop(l bridge.Listener, watcher *fsnotify.Watcher) {
	defer a.wg.Done()
	if watcher != nil {
		defer watcher.Close()
	}

	var events chan fsnotify.Event
	var watchErrs chan error
	if watcher != nil {
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	a.poll(l)
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.poll(l)
		case ev := <-events:
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				a.poll(l)
			}
		case err := <-watchErrs:
			logger.Debug("session dir watch error", logger.ErrorField(err))
		}
	}
}

// poll 一次轮询：找最新 session 文件，解析追加的字节
// 游标在解析完成后才前移，慢解析自然推迟下一次轮询而不会重叠
func (a *Adapter) poll(l bridge.Listener) {
	path := newestSessionFile(a.cfg.Dir)
	if path == "" {
		if !a.stateKnown || a.connected {
			a.connected = false
			a.stateKnown = true
			a.currentPath = ""
			a.readOffset = 0
			l.OnConnection(false, "")
		}
		return
	}

	if !a.stateKnown || !a.connected {
		a.connected = true
		a.stateKnown = true
		l.OnConnection(true, DeviceName)
	}

	if path != a.currentPath {
		// 新的 session 文件，游标与去重状态归零
		a.currentPath = path
		a.readOffset = 0
		a.lastByDeck = make(map[string]trackKey)
	}

	info, err := os.Stat(path)
	if err != nil {
		return
	}
	size := info.Size()
	if size < a.readOffset {
		// 文件被重写，从头再读
		a.readOffset = 0
	}
	if size == a.readOffset {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		logger.Warn("failed to open session file",
			logger.String("path", path), logger.ErrorField(err))
		return
	}
	defer f.Close()

	if _, err := f.Seek(a.readOffset, io.SeekStart); err != nil {
		return
	}
	chunk := make([]byte, size-a.readOffset)
	n, err := io.ReadFull(f, chunk)
	if err != nil && n == 0 {
		return
	}
	chunk = chunk[:n]

	entries := ParseSessionBytes(chunk)
	a.readOffset += int64(n)

	for _, entry := range entries {
		a.emitTrack(l, entry)
	}
}

// emitTrack 把一条 session 记录转成曲目事件
// 同甲板连续重复的 (title, artist) 被抑制；不同甲板或隔曲重现则照常发出
func (a *Adapter) emitTrack(l bridge.Listener, entry model.SeratoEntry) {
	deckID := mapDeckID(entry.Deck)
	key := trackKey{title: entry.Title, artist: entry.Artist}
	if a.lastByDeck[deckID] == key {
		return
	}
	a.lastByDeck[deckID] = key

	l.OnTrack(deckID, &model.TrackInfo{
		Title:  entry.Title,
		Artist: entry.Artist,
		Album:  entry.Album,
	})
}

// mapDeckID session 记录的甲板号映射为字符串 ID，0 映射为 "1"
func mapDeckID(deck int) string {
	if deck == 0 {
		return "1"
	}
	return strconv.Itoa(deck)
}

// newestSessionFile 返回目录中修改时间最新的 .session 文件
func newestSessionFile(dir string) string {
	items, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var newest string
	var newestMod time.Time
	for _, item := range items {
		if item.IsDir() || !strings.HasSuffix(item.Name(), ".session") {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = filepath.Join(dir, item.Name())
			newestMod = info.ModTime()
		}
	}
	return newest
}
