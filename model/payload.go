package model

// NowPlayingPayload 上报后端的正在播放载荷
// POST /api/bridge/nowplaying
type NowPlayingPayload struct {
	EventCode string  `json:"event_code"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Album     *string `json:"album"`
	Deck      *string `json:"deck"`
	Source    *string `json:"source"`
	Delayed   bool    `json:"delayed,omitempty"`
}

// BridgeStatusPayload 桥接器连接状态载荷
// POST /api/bridge/status
type BridgeStatusPayload struct {
	EventCode  string  `json:"event_code"`
	Connected  bool    `json:"connected"`
	DeviceName *string `json:"device_name"`
}

// StringPtr 返回字符串指针，空串返回 nil
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
