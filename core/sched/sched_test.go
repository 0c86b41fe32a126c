package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualAdvanceFiresDueCallbacksInDeadlineOrder(t *testing.T) {
	m := NewManual()

	var fired []string
	m.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
	m.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	m.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })

	m.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"a"}, fired)
	assert.Equal(t, 2, m.PendingCount())

	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, 0, m.PendingCount())
}

func TestManualCancelPreventsCallback(t *testing.T) {
	m := NewManual()

	fired := false
	h := m.AfterFunc(time.Second, func() { fired = true })
	h.Cancel()

	m.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.Equal(t, 0, m.PendingCount())
}

func TestManualCallbackMayScheduleFollowUp(t *testing.T) {
	m := NewManual()

	var fired []string
	m.AfterFunc(time.Second, func() {
		fired = append(fired, "first")
		// 回调里续订的定时器落在本次推进范围内也会触发
		m.AfterFunc(time.Second, func() { fired = append(fired, "second") })
	})

	m.Advance(3 * time.Second)
	assert.Equal(t, []string{"first", "second"}, fired)
}

func TestManualNowAdvancesWithVirtualClock(t *testing.T) {
	m := NewManual()
	start := m.Now()

	var seen time.Time
	m.AfterFunc(5*time.Second, func() { seen = m.Now() })

	m.Advance(10 * time.Second)
	// 回调执行时虚拟时钟停在其到期时刻
	assert.Equal(t, start.Add(5*time.Second), seen)
	assert.Equal(t, start.Add(10*time.Second), m.Now())
}

func TestManualZeroDelayFiresOnNextAdvance(t *testing.T) {
	m := NewManual()

	fired := false
	m.AfterFunc(0, func() { fired = true })
	require.Equal(t, 1, m.PendingCount())

	m.Advance(0)
	assert.True(t, fired)
}

func TestRealSchedulerFiresAndCancels(t *testing.T) {
	s := New()

	done := make(chan struct{})
	s.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}

	canceled := make(chan struct{})
	h := s.AfterFunc(50*time.Millisecond, func() { close(canceled) })
	h.Cancel()
	select {
	case <-canceled:
		t.Fatal("canceled callback fired")
	case <-time.After(150 * time.Millisecond):
	}
}
