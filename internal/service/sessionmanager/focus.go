package sessionmanager

import (
	"fmt"
	"log"
	"time"

	"github.com/yourusername/livequiz-api/internal/websocket"
)

// HandleFocusChange фиксирует потерю/возврат фокуса участника и транслирует
// её контроллеру, если в экзаменационном режиме включен мониторинг фокуса.
// Вне этого режима событие молча игнорируется.
func (m *Manager) HandleFocusChange(sessionID, participantID, nickname string, focused bool) {
	hot, err := m.loadSession(sessionID)
	if err != nil {
		return
	}
	quiz, err := m.loadQuiz(hot.QuizID)
	if err != nil {
		log.Printf("[StateMachine] Сессия %s: викторина недоступна для фокус-события: %v", sessionID, err)
		return
	}
	if quiz.ExamSettings == nil || !quiz.ExamSettings.FocusMonitoringEnabled {
		return
	}

	state := "regained"
	if !focused {
		state = "lost"
	}
	key := fmt.Sprintf("participant:%s:focus", participantID)
	if err := m.deps.Cache.Set(key, state, m.config.ParticipantTTL); err != nil {
		log.Printf("[StateMachine] Участник %s: фокус-флаг не записан: %v", participantID, err)
	}

	_ = m.deps.Fanout.PublishToController(sessionID, websocket.EventParticipantFocusChanged,
		map[string]interface{}{
			"participantId": participantID,
			"nickname":      nickname,
			"focused":       focused,
			"timestamp":     time.Now().UnixMilli(),
		})
}
