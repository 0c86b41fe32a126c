package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"BridgeFM/core/bridge"
	"BridgeFM/logger"

	"github.com/gorilla/mux"
)

// Server 本地状态服务
// 只读：暴露桥接器运行状态与甲板快照，并通过 websocket 推送事件
type Server struct {
	addr   string
	bridge *bridge.Bridge
	hub    *EventHub
	http   *http.Server
}

// New 创建状态服务并订阅桥接事件
func New(addr string, b *bridge.Bridge) *Server {
	s := &Server{
		addr:   addr,
		bridge: b,
		hub:    NewEventHub(),
	}
	b.AddObserver(s.hub)
	return s
}

// Start 启动监听，立即返回
func (s *Server) Start() {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/api/decks", s.handleDecks).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/ws/events", s.hub.HandleWS)

	s.http = &http.Server{
		Addr:         s.addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("status server listening", logger.String("addr", s.addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status server failed", logger.ErrorField(err))
		}
	}()
}

// Shutdown 优雅停机
func (s *Server) Shutdown(ctx context.Context) {
	s.hub.Close()
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			logger.Warn("status server shutdown error", logger.ErrorField(err))
		}
	}
}

// statusResponse /api/status 响应
type statusResponse struct {
	Connected        bool   `json:"connected"`
	DeviceName       string `json:"deviceName,omitempty"`
	NowPlayingDeckID string `json:"nowPlayingDeckId,omitempty"`
	BreakerState     string `json:"breakerState"`
	PendingReports   int    `json:"pendingReports"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	connected, deviceName := s.bridge.Status()
	resp := statusResponse{
		Connected:        connected,
		DeviceName:       deviceName,
		NowPlayingDeckID: s.bridge.Manager().CurrentNowPlayingDeckID(),
		BreakerState:     string(s.bridge.Reporter().Breaker().State()),
		PendingReports:   s.bridge.Reporter().PendingCount(),
	}
	writeJSON(w, resp)
}

func (s *Server) handleDecks(w http.ResponseWriter, r *http.Request) {
	manager := s.bridge.Manager()
	ids := manager.GetDeckIDs()

	snapshots := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		snap, err := manager.GetDeckState(id)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, snap)
	}
	writeJSON(w, snapshots)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", logger.ErrorField(err))
	}
}

// corsMiddleware 本地监视页面跨域放行
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
