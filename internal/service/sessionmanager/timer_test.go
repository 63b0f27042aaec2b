package sessionmanager

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisrepo "github.com/yourusername/livequiz-api/internal/repository/redis"
	"github.com/yourusername/livequiz-api/internal/websocket"
)

func newTestTimerManager(t *testing.T) *TimerManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	live, err := redisrepo.NewLiveStore(client)
	require.NoError(t, err)
	hub := websocket.NewHub()
	return NewTimerManager(live, websocket.NewFanout(&websocket.NoOpPubSub{}, hub))
}

func TestTimerManager_ExpiresExactlyOnce(t *testing.T) {
	// Arrange
	tm := newTestTimerManager(t)
	var fired int32
	done := make(chan struct{})

	// Act
	err := tm.Start("sess-1", "q-1", 1, func() {
		if atomic.AddInt32(&fired, 1) == 1 {
			close(done)
		}
	})
	require.NoError(t, err)

	// Assert: истечение приходит около лимита
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("onExpired не вызван за разумное время")
	}
	// Даем тикеру шанс на лишний вызов
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired), "onExpired должен вызываться ровно один раз")

	// Истекший таймер снят с реестра
	_, ok := tm.Remaining("sess-1")
	assert.False(t, ok)
}

func TestTimerManager_StopPreventsExpiry(t *testing.T) {
	// Arrange
	tm := newTestTimerManager(t)
	var fired int32
	require.NoError(t, tm.Start("sess-1", "q-1", 1, func() {
		atomic.AddInt32(&fired, 1)
	}))

	// Act
	tm.Stop("sess-1")
	time.Sleep(2 * time.Second)

	// Assert
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired), "Stop должен отменять onExpired")
	_, ok := tm.Remaining("sess-1")
	assert.False(t, ok)
}

func TestTimerManager_StartReplacesExisting(t *testing.T) {
	// Arrange: второй Start той же сессии вытесняет первый без onExpired
	tm := newTestTimerManager(t)
	var firstFired int32
	require.NoError(t, tm.Start("sess-1", "q-1", 1, func() {
		atomic.AddInt32(&firstFired, 1)
	}))

	// Act
	require.NoError(t, tm.Start("sess-1", "q-2", 30, func() {}))
	time.Sleep(2 * time.Second)

	// Assert
	assert.Equal(t, int32(0), atomic.LoadInt32(&firstFired),
		"Вытесненный таймер не должен истекать")
	remaining, ok := tm.Remaining("sess-1")
	require.True(t, ok)
	assert.Greater(t, remaining, 25)
}

func TestTimerManager_PauseResume(t *testing.T) {
	// Arrange
	tm := newTestTimerManager(t)
	require.NoError(t, tm.Start("sess-1", "q-1", 30, func() {}))

	// Act: пауза замораживает остаток
	remaining, err := tm.Pause("sess-1")
	require.NoError(t, err)
	assert.InDelta(t, 30, remaining, 1)

	time.Sleep(1500 * time.Millisecond)
	frozen, ok := tm.Remaining("sess-1")
	require.True(t, ok)
	assert.Equal(t, remaining, frozen, "На паузе остаток не уменьшается")

	// Повторная пауза идемпотентна
	again, err := tm.Pause("sess-1")
	require.NoError(t, err)
	assert.Equal(t, remaining, again)

	// Resume продолжает с того же остатка
	resumed, err := tm.Resume("sess-1")
	require.NoError(t, err)
	assert.Equal(t, remaining, resumed)
}

func TestTimerManager_Reset(t *testing.T) {
	// Arrange
	tm := newTestTimerManager(t)
	require.NoError(t, tm.Start("sess-1", "q-1", 30, func() {}))

	// Act
	require.NoError(t, tm.Reset("sess-1", 10))

	// Assert
	remaining, ok := tm.Remaining("sess-1")
	require.True(t, ok)
	assert.LessOrEqual(t, remaining, 10)
	assert.Greater(t, remaining, 8)
}

func TestTimerManager_PauseWithoutTimer(t *testing.T) {
	tm := newTestTimerManager(t)
	_, err := tm.Pause("sess-none")
	assert.Error(t, err)
	_, err = tm.Resume("sess-none")
	assert.Error(t, err)
	assert.Error(t, tm.Reset("sess-none", 10))
}

func TestTimerManager_RecoverExpiredEnd(t *testing.T) {
	// Arrange: сохраненный конец отсчета уже в прошлом
	tm := newTestTimerManager(t)
	done := make(chan struct{})

	// Act
	tm.Recover("sess-1", "q-1", time.Now().UnixMilli()-5000, func() {
		close(done)
	})

	// Assert: onExpired вызывается немедленно
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onExpired не вызван при восстановлении истекшего таймера")
	}
	_, ok := tm.Remaining("sess-1")
	assert.False(t, ok)
}

func TestTimerManager_RecoverLiveEnd(t *testing.T) {
	// Arrange: до конца отсчета еще 10 секунд
	tm := newTestTimerManager(t)

	// Act
	tm.Recover("sess-1", "q-1", time.Now().UnixMilli()+10000, func() {})

	// Assert
	remaining, ok := tm.Remaining("sess-1")
	require.True(t, ok)
	assert.InDelta(t, 10, remaining, 1)
}

func TestRemainingSeconds_RoundsUp(t *testing.T) {
	now := time.Now().UnixMilli()
	assert.Equal(t, 2, remainingSeconds(now+1500), "Неполная секунда округляется вверх")
	assert.Equal(t, 0, remainingSeconds(now-100))
	assert.Equal(t, 0, remainingSeconds(now))
}

func TestTimerManager_ExpiryPanicDoesNotCrash(t *testing.T) {
	// Arrange: паника в onExpired не должна ронять планировщик
	tm := newTestTimerManager(t)
	done := make(chan struct{})
	require.NoError(t, tm.Start("sess-1", "q-1", 1, func() {
		defer close(done)
		panic("boom")
	}))

	// Act & Assert
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("onExpired не вызван")
	}
}

func TestTimerManager_ExpiredRunDoesNotEvictReplacement(t *testing.T) {
	// Arrange: таймер-замена уже в реестре, а расписание вытесненного
	// таймера доживает последний тик
	tm := newTestTimerManager(t)
	require.NoError(t, tm.Start("sess-1", "q-2", 30, func() {}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stale := &sessionTimer{
		sessionID:  "sess-1",
		questionID: "q-1",
		endTimeMs:  time.Now().UnixMilli() - 1000,
		cancel:     cancel,
	}
	done := make(chan struct{})

	// Act
	go tm.run(ctx, stale, func() { close(done) })
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Вытесненный таймер не истек за разумное время")
	}

	// Assert: истечение вытесненного таймера не сняло замену с реестра
	remaining, ok := tm.Remaining("sess-1")
	require.True(t, ok, "Таймер-замена должен остаться в реестре")
	assert.Greater(t, remaining, 25)
}
