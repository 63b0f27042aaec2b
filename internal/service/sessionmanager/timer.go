package sessionmanager

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/yourusername/livequiz-api/internal/domain/repository"
	"github.com/yourusername/livequiz-api/internal/websocket"
)

// sessionTimer - один активный отсчет вопроса. Ключ таймера - пара
// (sessionID, questionID); на сессию существует не больше одного таймера.
type sessionTimer struct {
	sessionID  string
	questionID string

	mu sync.Mutex
	// Unix ms согласованного конца отсчета. Авторитетная копия лежит в
	// fast store (timer_end_time); это локальный кеш для тиков.
	endTimeMs int64
	// При паузе тики приостанавливаются, таймер остается живым
	paused           bool
	remainingOnPause int

	cancel      context.CancelFunc
	expiredOnce sync.Once
}

// TimerManager - процессный реестр таймеров, ключ - sessionID.
// Тики идут с частотой 1 Гц и пересчитываются от стенного времени, поэтому
// задержка планировщика не накапливает дрейф.
type TimerManager struct {
	live   repository.LiveStore
	fanout *websocket.Fanout

	timers sync.Map // sessionID -> *sessionTimer
}

// NewTimerManager создает реестр таймеров
func NewTimerManager(live repository.LiveStore, fanout *websocket.Fanout) *TimerManager {
	return &TimerManager{live: live, fanout: fanout}
}

// Start запускает таймер вопроса на limitSec секунд. Существующий таймер
// сессии останавливается без вызова onExpired. Запись согласованного конца
// в fast store обязана пройти: таймер без зафиксированного конца не создается.
func (tm *TimerManager) Start(sessionID, questionID string, limitSec int, onExpired func()) error {
	tm.Stop(sessionID)

	endTimeMs := time.Now().UnixMilli() + int64(limitSec)*1000
	if err := tm.live.UpdateSessionFields(sessionID, map[string]interface{}{
		"timer_end_time": endTimeMs,
	}); err != nil {
		return fmt.Errorf("failed to persist timer end time: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &sessionTimer{
		sessionID:  sessionID,
		questionID: questionID,
		endTimeMs:  endTimeMs,
		cancel:     cancel,
	}
	tm.timers.Store(sessionID, t)

	// Немедленный тик с полным лимитом, дальше - по расписанию
	tm.broadcastTick(sessionID, questionID, limitSec)

	go tm.run(ctx, t, onExpired)

	log.Printf("[TimerManager] Таймер сессии %s запущен: вопрос %s, %d сек", sessionID, questionID, limitSec)
	return nil
}

// Recover поднимает таймер после рестарта процесса от сохраненного в fast
// store конца отсчета. Если конец уже в прошлом, onExpired вызывается сразу.
func (tm *TimerManager) Recover(sessionID, questionID string, endTimeMs int64, onExpired func()) {
	tm.Stop(sessionID)

	remaining := remainingSeconds(endTimeMs)
	if remaining <= 0 {
		log.Printf("[TimerManager] Восстановление сессии %s: отсчет уже истек, запускаем onExpired", sessionID)
		safeExpire(sessionID, onExpired)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &sessionTimer{
		sessionID:  sessionID,
		questionID: questionID,
		endTimeMs:  endTimeMs,
		cancel:     cancel,
	}
	tm.timers.Store(sessionID, t)
	tm.broadcastTick(sessionID, questionID, remaining)
	go tm.run(ctx, t, onExpired)

	log.Printf("[TimerManager] Таймер сессии %s восстановлен: осталось %d сек", sessionID, remaining)
}

// Stop отменяет таймер сессии. Колбэк истечения не вызывается.
func (tm *TimerManager) Stop(sessionID string) {
	if v, ok := tm.timers.LoadAndDelete(sessionID); ok {
		t := v.(*sessionTimer)
		// Помечаем истекшим, чтобы гонка с тикером не вызвала onExpired
		t.expiredOnce.Do(func() {})
		t.cancel()
		log.Printf("[TimerManager] Таймер сессии %s остановлен", sessionID)
	}
}

// Pause замораживает отсчет на текущем remainingSeconds. Таймер остается
// живым; тики не публикуются до Resume.
func (tm *TimerManager) Pause(sessionID string) (int, error) {
	t, ok := tm.get(sessionID)
	if !ok {
		return 0, fmt.Errorf("no active timer for session %s", sessionID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused {
		return t.remainingOnPause, nil
	}
	t.paused = true
	t.remainingOnPause = remainingSeconds(t.endTimeMs)
	log.Printf("[TimerManager] Таймер сессии %s на паузе: осталось %d сек", sessionID, t.remainingOnPause)
	return t.remainingOnPause, nil
}

// Resume пересчитывает конец отсчета от текущего момента и возобновляет тики
func (tm *TimerManager) Resume(sessionID string) (int, error) {
	t, ok := tm.get(sessionID)
	if !ok {
		return 0, fmt.Errorf("no active timer for session %s", sessionID)
	}
	t.mu.Lock()
	if !t.paused {
		remaining := remainingSeconds(t.endTimeMs)
		t.mu.Unlock()
		return remaining, nil
	}
	remaining := t.remainingOnPause
	t.endTimeMs = time.Now().UnixMilli() + int64(remaining)*1000
	t.paused = false
	endTimeMs := t.endTimeMs
	t.mu.Unlock()

	if err := tm.live.UpdateSessionFields(sessionID, map[string]interface{}{
		"timer_end_time": endTimeMs,
	}); err != nil {
		return 0, fmt.Errorf("failed to persist timer end time: %w", err)
	}

	tm.broadcastTick(sessionID, t.questionID, remaining)
	log.Printf("[TimerManager] Таймер сессии %s возобновлен: осталось %d сек", sessionID, remaining)
	return remaining, nil
}

// Reset перезапускает отсчет текущего вопроса с новым лимитом
func (tm *TimerManager) Reset(sessionID string, newLimitSec int) error {
	t, ok := tm.get(sessionID)
	if !ok {
		return fmt.Errorf("no active timer for session %s", sessionID)
	}
	t.mu.Lock()
	t.endTimeMs = time.Now().UnixMilli() + int64(newLimitSec)*1000
	t.paused = false
	endTimeMs := t.endTimeMs
	t.mu.Unlock()

	if err := tm.live.UpdateSessionFields(sessionID, map[string]interface{}{
		"timer_end_time": endTimeMs,
	}); err != nil {
		return fmt.Errorf("failed to persist timer end time: %w", err)
	}

	tm.broadcastTick(sessionID, t.questionID, newLimitSec)
	log.Printf("[TimerManager] Таймер сессии %s перезапущен: %d сек", sessionID, newLimitSec)
	return nil
}

// Remaining возвращает оставшиеся секунды активного таймера сессии
// (0, false - таймера нет)
func (tm *TimerManager) Remaining(sessionID string) (int, bool) {
	t, ok := tm.get(sessionID)
	if !ok {
		return 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused {
		return t.remainingOnPause, true
	}
	return remainingSeconds(t.endTimeMs), true
}

// StopAll останавливает все таймеры (graceful shutdown)
func (tm *TimerManager) StopAll() {
	tm.timers.Range(func(key, _ interface{}) bool {
		tm.Stop(key.(string))
		return true
	})
}

func (tm *TimerManager) get(sessionID string) (*sessionTimer, bool) {
	v, ok := tm.timers.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*sessionTimer), true
}

// run ведет расписание тиков. Каждый тик пересчитывает remainingSeconds от
// стенного времени; достижение нуля останавливает расписание и вызывает
// onExpired ровно один раз.
func (tm *TimerManager) run(ctx context.Context, t *sessionTimer, onExpired func()) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.paused {
				t.mu.Unlock()
				continue
			}
			endTimeMs := t.endTimeMs
			t.mu.Unlock()

			remaining := remainingSeconds(endTimeMs)
			tm.broadcastTick(t.sessionID, t.questionID, remaining)

			if remaining <= 0 {
				// Удаляем только СВОЮ запись: Stop+Start между тиком и
				// удалением мог положить в реестр таймер-замену
				tm.timers.CompareAndDelete(t.sessionID, t)
				t.expiredOnce.Do(func() {
					safeExpire(t.sessionID, onExpired)
				})
				return
			}
		}
	}
}

// broadcastTick публикует timer_tick в каналы контроллера, большого экрана и
// игроков. Ошибка публикации одного канала не трогает остальные и не
// останавливает расписание.
func (tm *TimerManager) broadcastTick(sessionID, questionID string, remaining int) {
	payload := map[string]interface{}{
		"questionId":       questionID,
		"remainingSeconds": remaining,
		"serverTime":       time.Now().UnixMilli(),
	}
	_ = tm.fanout.PublishToController(sessionID, websocket.EventTimerTick, payload)
	_ = tm.fanout.PublishToBigScreen(sessionID, websocket.EventTimerTick, payload)
	_ = tm.fanout.PublishToParticipants(sessionID, websocket.EventTimerTick, payload)
}

// remainingSeconds = ceil(max(0, end-now)/1000)
func remainingSeconds(endTimeMs int64) int {
	deltaMs := endTimeMs - time.Now().UnixMilli()
	if deltaMs <= 0 {
		return 0
	}
	return int((deltaMs + 999) / 1000)
}

// safeExpire вызывает колбэк истечения, не пропуская панику в планировщик
func safeExpire(sessionID string, onExpired func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[TimerManager] PANIC в onExpired сессии %s: %v\n%s", sessionID, r, debug.Stack())
		}
	}()
	if onExpired != nil {
		onExpired()
	}
}
