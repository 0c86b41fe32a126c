package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"BridgeFM/core/bridge"
	"BridgeFM/core/deck"
	"BridgeFM/core/sched"
	"BridgeFM/core/transport"
	"BridgeFM/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct{}

func (stubAdapter) Name() string                      { return "Stub" }
func (stubAdapter) Capabilities() bridge.Capabilities {
	return bridge.Capabilities{MultiDeck: true, PlayState: true}
}
func (stubAdapter) Start(bridge.Listener) error       { return nil }
func (stubAdapter) Stop()                             {}

func newTestServer(t *testing.T) (*Server, *bridge.Bridge, *sched.Manual) {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backend.Close)

	clock := sched.NewManual()
	breaker := transport.NewBreaker(transport.DefaultFailureThreshold, transport.DefaultCooldown, clock)
	reporter := transport.NewReporter(transport.ReporterConfig{
		BaseURL:   backend.URL,
		EventCode: "evt-server",
	}, breaker, clock, nil)
	t.Cleanup(reporter.Close)

	manager := deck.NewManager(deck.DefaultConfig(), clock)
	t.Cleanup(manager.Destroy)

	b := bridge.New(stubAdapter{}, manager, reporter)
	return New(":0", b), b, clock
}

func TestStatusEndpoint(t *testing.T) {
	s, b, clock := newTestServer(t)

	b.OnConnection(true, "Serato DJ")
	b.OnTrack("2", &model.TrackInfo{Title: "Strobe", Artist: "Deadmau5"})
	b.OnPlayState("2", true)
	clock.Advance(15 * time.Second)

	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp statusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Connected)
	assert.Equal(t, "Serato DJ", resp.DeviceName)
	assert.Equal(t, "2", resp.NowPlayingDeckID)
	assert.Equal(t, string(transport.BreakerClosed), resp.BreakerState)
	assert.Equal(t, 0, resp.PendingReports)
}

func TestDecksEndpoint(t *testing.T) {
	s, b, _ := newTestServer(t)

	b.OnTrack("1", &model.TrackInfo{Title: "Strobe", Artist: "Deadmau5"})
	b.OnTrack("2", &model.TrackInfo{Title: "One More Time", Artist: "Daft Punk"})

	rec := httptest.NewRecorder()
	s.handleDecks(rec, httptest.NewRequest(http.MethodGet, "/api/decks", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snaps []deck.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snaps))
	require.Len(t, snaps, 2)
	assert.Equal(t, "1", snaps[0].ID)
	assert.Equal(t, deck.StateLoaded, snaps[0].State)
	assert.Equal(t, "Strobe", snaps[0].Track.Title)
	assert.Equal(t, "2", snaps[1].ID)
}

func TestCORSPreflight(t *testing.T) {
	rec := httptest.NewRecorder()
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestEventHubBroadcastsToWebsocketClients(t *testing.T) {
	hub := NewEventHub()
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// 等待服务端完成客户端注册再广播
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 1
	}, time.Second, 5*time.Millisecond)

	hub.NowPlaying("1", model.TrackInfo{Title: "Strobe", Artist: "Deadmau5"})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MsgTypeNowPlaying, msg.Type)

	var data NowPlayingData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "1", data.DeckID)
	assert.Equal(t, "Strobe", data.Track.Title)

	hub.NowPlayingCleared()
	msg = WSMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MsgTypeCleared, msg.Type)
	assert.Empty(t, msg.Data)
}
