package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"BridgeFM/core/sched"
	"BridgeFM/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backendStub 记录收到的请求，failing 打开时全部返回 500
type backendStub struct {
	mu       sync.Mutex
	failing  atomic.Bool
	requests []capturedRequest
}

type capturedRequest struct {
	method  string
	path    string
	apiKey  string
	payload model.NowPlayingPayload
}

func (b *backendStub) handler(w http.ResponseWriter, r *http.Request) {
	req := capturedRequest{
		method: r.Method,
		path:   r.URL.Path,
		apiKey: r.Header.Get("X-Bridge-API-Key"),
	}
	if r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&req.payload)
	}

	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	if b.failing.Load() {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (b *backendStub) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

func (b *backendStub) request(i int) capturedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[i]
}

func newTestReporter(t *testing.T, baseURL string) (*Reporter, *sched.Manual) {
	t.Helper()
	clock := sched.NewManual()
	breaker := NewBreaker(3, time.Minute, clock)
	r := NewReporter(ReporterConfig{
		BaseURL:   baseURL,
		APIKey:    "test-key",
		EventCode: "evt-123",
		Source:    "serato",
		// 重试间隔压到最短，退避策略本身由请求计数验证
		PostRetryDelays:   []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		DeleteRetryDelays: []time.Duration{time.Millisecond, time.Millisecond},
	}, breaker, clock, nil)
	t.Cleanup(r.Close)
	return r, clock
}

func TestPostNowPlayingSendsPayload(t *testing.T) {
	stub := &backendStub{}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	r, _ := newTestReporter(t, srv.URL)

	ok := r.PostNowPlaying("Strobe", "Deadmau5", "For Lack of a Better Name", "1")
	require.True(t, ok)
	require.Equal(t, 1, stub.count())

	req := stub.request(0)
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/api/bridge/nowplaying", req.path)
	assert.Equal(t, "test-key", req.apiKey)
	assert.Equal(t, "evt-123", req.payload.EventCode)
	assert.Equal(t, "Strobe", req.payload.Title)
	assert.Equal(t, "Deadmau5", req.payload.Artist)
	require.NotNil(t, req.payload.Album)
	assert.Equal(t, "For Lack of a Better Name", *req.payload.Album)
	require.NotNil(t, req.payload.Deck)
	assert.Equal(t, "1", *req.payload.Deck)
	require.NotNil(t, req.payload.Source)
	assert.Equal(t, "serato", *req.payload.Source)
	assert.False(t, req.payload.Delayed)
}

func TestPostExhaustsRetriesThenReportsFailure(t *testing.T) {
	stub := &backendStub{}
	stub.failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	r, _ := newTestReporter(t, srv.URL)

	ok := r.PostNowPlaying("Strobe", "Deadmau5", "", "")
	assert.False(t, ok)
	// 首次尝试 + 3 次重试
	assert.Equal(t, 4, stub.count())
	assert.Equal(t, 1, r.Breaker().ConsecutiveFailures())
}

func TestClearNowPlayingUsesShorterRetrySchedule(t *testing.T) {
	stub := &backendStub{}
	stub.failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	r, _ := newTestReporter(t, srv.URL)

	r.ClearNowPlaying()
	// 首次尝试 + 2 次重试
	require.Equal(t, 3, stub.count())
	req := stub.request(0)
	assert.Equal(t, http.MethodDelete, req.method)
	assert.Equal(t, "/api/bridge/nowplaying/evt-123", req.path)
}

func TestBreakerTripsAfterThreeExhaustedCallsAndShortCircuits(t *testing.T) {
	stub := &backendStub{}
	stub.failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	r, _ := newTestReporter(t, srv.URL)

	assert.False(t, r.PostNowPlaying("Track A", "X", "", ""))
	assert.False(t, r.PostNowPlaying("Track B", "X", "", ""))
	assert.False(t, r.PostNowPlaying("Track C", "X", "", ""))
	require.Equal(t, BreakerOpen, r.Breaker().State())
	require.Equal(t, 12, stub.count())

	// 熔断中第 4 次调用不碰网络
	assert.False(t, r.PostNowPlaying("Track D", "X", "", ""))
	assert.Equal(t, 12, stub.count())

	// 熔断时失败的 C 和被拒绝的 D 都进入重放缓冲
	assert.Equal(t, 2, r.PendingCount())
}

func TestReplayAfterRecoveryCarriesDelayedMarker(t *testing.T) {
	stub := &backendStub{}
	stub.failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	r, clock := newTestReporter(t, srv.URL)

	r.PostNowPlaying("Track A", "X", "", "")
	r.PostNowPlaying("Track B", "X", "", "")
	r.PostNowPlaying("Track C", "X", "", "")
	require.Equal(t, BreakerOpen, r.Breaker().State())
	require.Equal(t, 1, r.PendingCount())

	// 后端恢复，冷却期满后的探测成功触发重放
	stub.failing.Store(false)
	clock.Advance(time.Minute)
	before := stub.count()

	ok := r.PostNowPlaying("Track D", "X", "", "")
	require.True(t, ok)
	require.Equal(t, BreakerClosed, r.Breaker().State())
	assert.Equal(t, 0, r.PendingCount())

	// 探测请求在前，重放按原始顺序跟在后面
	require.Equal(t, before+2, stub.count())
	probe := stub.request(before)
	assert.Equal(t, "Track D", probe.payload.Title)
	assert.False(t, probe.payload.Delayed)

	replayed := stub.request(before + 1)
	assert.Equal(t, "Track C", replayed.payload.Title)
	assert.True(t, replayed.payload.Delayed)
}

func TestDuplicateNowPlayingSuppressedWithinWindow(t *testing.T) {
	stub := &backendStub{}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	r, clock := newTestReporter(t, srv.URL)

	require.True(t, r.PostNowPlaying("Strobe", "Deadmau5", "", "1"))
	require.Equal(t, 1, stub.count())

	// 大小写与首尾空白不影响判重
	require.True(t, r.PostNowPlaying("  STROBE  ", " deadmau5 ", "", "1"))
	assert.Equal(t, 1, stub.count())

	// 窗口过后同曲目重新上报
	clock.Advance(6 * time.Second)
	require.True(t, r.PostNowPlaying("Strobe", "Deadmau5", "", "1"))
	assert.Equal(t, 2, stub.count())
}

func TestEmptyTitleAlwaysSuppressed(t *testing.T) {
	stub := &backendStub{}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	r, _ := newTestReporter(t, srv.URL)

	assert.False(t, r.PostNowPlaying("   ", "Deadmau5", "", "1"))
	assert.Equal(t, 0, stub.count())
}

func TestPostBridgeStatus(t *testing.T) {
	stub := &backendStub{}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	r, _ := newTestReporter(t, srv.URL)

	require.True(t, r.PostBridgeStatus(true, "Serato DJ"))
	require.Equal(t, 1, stub.count())
	assert.Equal(t, "/api/bridge/status", stub.request(0).path)
}

func TestHistoryBufferDropsOldestOnOverflow(t *testing.T) {
	h := NewHistoryBuffer(3)
	for i := 0; i < 5; i++ {
		h.Append(model.NowPlayingPayload{Title: string(rune('A' + i))})
	}
	require.Equal(t, 3, h.Len())

	items := h.DrainAll()
	require.Len(t, items, 3)
	assert.Equal(t, "C", items[0].Title)
	assert.Equal(t, "E", items[2].Title)
	assert.Equal(t, 0, h.Len())
}

func TestHistoryBufferPushFrontKeepsOrder(t *testing.T) {
	h := NewHistoryBuffer(10)
	h.Append(model.NowPlayingPayload{Title: "C"})
	h.PushFront([]model.NowPlayingPayload{{Title: "A"}, {Title: "B"}})

	items := h.DrainAll()
	require.Len(t, items, 3)
	assert.Equal(t, "A", items[0].Title)
	assert.Equal(t, "B", items[1].Title)
	assert.Equal(t, "C", items[2].Title)
}
