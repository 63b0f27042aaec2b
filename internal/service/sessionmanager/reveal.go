package sessionmanager

import (
	"log"
	"time"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/domain/repository"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
	"github.com/yourusername/livequiz-api/internal/websocket"
)

// enterReveal переводит сессию ACTIVE_QUESTION -> REVEAL: фиксирует
// состояние, собирает reveal_answers с правильными вариантами и агрегатами
// вопроса, рассылает на все четыре канала, затем проводит раунд выбывания,
// если он положен. Вызывается под мьютексом сессии.
func (m *Manager) enterReveal(hot *entity.SessionHot, quiz *entity.Quiz) error {
	sessionID := hot.SessionID
	question := quiz.QuestionByID(hot.CurrentQuestionID)
	if question == nil {
		return apperrors.Reject(apperrors.KindInternalError, "Active question not found in quiz")
	}

	if err := m.deps.Live.UpdateSessionFields(sessionID, map[string]interface{}{
		"state": entity.SessionStateReveal,
	}); err != nil {
		return apperrors.Reject(apperrors.KindInternalError, "Failed to enter reveal")
	}
	hot.State = entity.SessionStateReveal
	m.mirrorSessionFields(sessionID, map[string]interface{}{"state": entity.SessionStateReveal})

	m.deps.Fanout.BroadcastToSession(sessionID, websocket.EventRevealAnswers,
		m.revealPayload(sessionID, question))

	// Лидерборд после закрытия вопроса: топ - игрокам и экрану, полный -
	// контроллеру
	m.scoring.PublishLeaderboard(sessionID)

	if quiz.IsElimination() {
		m.runEliminationRound(hot, quiz)
	}

	log.Printf("[StateMachine] Сессия %s: REVEAL вопроса %s", sessionID, question.ID)
	return nil
}

// revealPayload собирает payload reveal_answers
func (m *Manager) revealPayload(sessionID string, question *entity.Question) map[string]interface{} {
	stats, err := m.deps.Live.GetQuestionStats(sessionID, question.ID)
	if err != nil {
		log.Printf("[StateMachine] Сессия %s: агрегаты вопроса %s недоступны: %v", sessionID, question.ID, err)
		stats = &repository.QuestionStats{}
	}
	payload := map[string]interface{}{
		"questionId":     question.ID,
		"correctOptions": question.CorrectOptionIDs(),
		"statistics": map[string]interface{}{
			"totalAnswers":        stats.TotalAnswers,
			"correctAnswers":      stats.CorrectAnswers,
			"averageResponseTime": stats.AverageResponseTimeMs(),
		},
	}
	if question.Explanation != "" {
		payload["explanationText"] = question.Explanation
	}
	return payload
}

// QuestionFullyAnswered вызывается конвейером приема, когда на активный
// вопрос ответили все допущенные участники: вопрос закрывается досрочно
func (m *Manager) QuestionFullyAnswered(sessionID, questionID string) {
	log.Printf("[StateMachine] Сессия %s: все участники ответили на вопрос %s", sessionID, questionID)
	m.advanceAfterQuestion(sessionID, questionID, "all_answered")
}

// broadcastParticipantCount рассылает игрокам обновленный счетчик участников
func (m *Manager) broadcastParticipantCount(sessionID string, participantCount, eliminatedCount int) {
	_ = m.deps.Fanout.PublishToParticipants(sessionID, websocket.EventParticipantCountUpdated,
		map[string]interface{}{
			"participantCount": participantCount,
			"eliminatedCount":  eliminatedCount,
			"timestamp":        time.Now().UnixMilli(),
		})
}
