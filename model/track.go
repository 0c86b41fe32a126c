package model

// TrackInfo 当前曲目信息
// 不可变值对象，曲目切换时整体替换
type TrackInfo struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Album  string `json:"album,omitempty"`
}

// SeratoEntry 从 Serato session 文件解析出的一条曲目记录
// 所有字段在源数据缺失时保持零值
type SeratoEntry struct {
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Album     string  `json:"album"`
	Genre     string  `json:"genre"`
	BPM       float64 `json:"bpm"`
	Key       string  `json:"key"`
	Deck      int     `json:"deck"`
	StartTime int     `json:"startTime"`
}
