package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"BridgeFM/logger"
	"BridgeFM/model"

	"github.com/gorilla/websocket"
)

// MessageType 推送消息类型
type MessageType string

const (
	MsgTypeNowPlaying MessageType = "now_playing"         // 正在播放变更
	MsgTypeCleared    MessageType = "now_playing_cleared" // 正在播放清除
	MsgTypeConnection MessageType = "connection"          // 设备连接状态
)

// WSMessage 推送给本地监视页面的消息
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NowPlayingData 正在播放消息数据
type NowPlayingData struct {
	DeckID string          `json:"deckId"`
	Track  model.TrackInfo `json:"track"`
}

// ConnectionData 连接状态消息数据
type ConnectionData struct {
	Connected  bool   `json:"connected"`
	DeviceName string `json:"deviceName,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventHub 本地监视客户端的广播中心
// 实现 bridge.Observer，把桥接事件推给所有连接的页面
type EventHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewEventHub 创建广播中心
func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[*websocket.Conn]bool)}
}

// HandleWS websocket 接入口
func (h *EventHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	logger.Debug("monitor client connected")

	// 只推不收，读循环用来感知断开
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Close 断开所有客户端
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
}

func (h *EventHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// broadcast 向所有客户端推送一条消息，写失败的客户端被摘除
func (h *EventHub) broadcast(msgType MessageType, data interface{}) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			logger.Error("failed to marshal ws message", logger.ErrorField(err))
			return
		}
		raw = b
	}
	msg := WSMessage{
		Type:      msgType,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(msg); err != nil {
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// ========== bridge.Observer ==========

// NowPlaying 推送正在播放变更
func (h *EventHub) NowPlaying(deckID string, track model.TrackInfo) {
	h.broadcast(MsgTypeNowPlaying, NowPlayingData{DeckID: deckID, Track: track})
}

// NowPlayingCleared 推送正在播放清除
func (h *EventHub) NowPlayingCleared() {
	h.broadcast(MsgTypeCleared, nil)
}

// Connection 推送设备连接状态
func (h *EventHub) Connection(connected bool, deviceName string) {
	h.broadcast(MsgTypeConnection, ConnectionData{Connected: connected, DeviceName: deviceName})
}
