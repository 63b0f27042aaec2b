package sessionmanager

import (
	"log"
	"time"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
	"github.com/yourusername/livequiz-api/internal/websocket"
)

// HandleReconnect восстанавливает участника после обрыва соединения в
// пределах окна переподключения (TTL горячей записи). Возвращает полный
// снимок для session_recovered; отказ - RejectError, который обработчик
// превращает в recovery_failed.
func (m *Manager) HandleReconnect(sessionID, participantID, lastKnownQuestionID, connectionID string) (map[string]interface{}, error) {
	payload, err := m.recover(sessionID, participantID, lastKnownQuestionID, connectionID)
	if err != nil {
		m.deps.AuditRepo.Append(&entity.AuditLog{
			EventType:     entity.AuditRecoveryFailed,
			SessionID:     sessionID,
			ParticipantID: participantID,
			Details:       entity.JSONMap{"reason": string(apperrors.KindOf(err))},
			Error:         err.Error(),
		})
		return nil, err
	}

	m.deps.AuditRepo.Append(&entity.AuditLog{
		EventType:     entity.AuditRecoverySuccess,
		SessionID:     sessionID,
		ParticipantID: participantID,
		Details:       entity.JSONMap{"last_known_question_id": lastKnownQuestionID},
	})

	// Контроллер видит возвращение участника
	_ = m.deps.Fanout.PublishToController(sessionID, websocket.EventParticipantStatusChanged,
		map[string]interface{}{
			"participantId": participantID,
			"status":        "connected",
			"timestamp":     time.Now().UnixMilli(),
		})

	return payload, nil
}

func (m *Manager) recover(sessionID, participantID, lastKnownQuestionID, connectionID string) (map[string]interface{}, error) {
	hot, err := m.loadSession(sessionID)
	if err != nil {
		return nil, err
	}
	if hot.State == entity.SessionStateEnded {
		return nil, apperrors.Reject(apperrors.KindSessionEnded, "Session has already ended")
	}

	p, err := m.deps.Live.GetParticipant(participantID)
	if err != nil {
		// Горячая запись истекла: окно переподключения закрыто
		return nil, apperrors.Reject(apperrors.KindParticipantNotFound, "Reconnect window has expired")
	}
	if p.SessionID != sessionID {
		return nil, apperrors.Reject(apperrors.KindParticipantNotFound, "Participant is not in this session")
	}
	if p.IsBanned {
		return nil, apperrors.Reject(apperrors.KindParticipantBanned, "Participant is banned")
	}
	if !p.IsActive {
		return nil, apperrors.Reject(apperrors.KindParticipantNotActive, "Participant is no longer active")
	}

	// Привязка к новому соединению и продление окна
	if err := m.deps.Live.UpdateParticipantFields(participantID, map[string]interface{}{
		"socket_id": connectionID,
	}, m.config.ParticipantTTL); err != nil {
		log.Printf("[Recovery] Участник %s: ошибка привязки соединения: %v", participantID, err)
		return nil, apperrors.Reject(apperrors.KindInternalError, "Failed to rebind connection")
	}

	payload := map[string]interface{}{
		"sessionId":     sessionID,
		"currentState":  hot.State,
		"questionIndex": hot.CurrentQuestionIndex,
		"totalScore":    p.TotalScore,
		"streakCount":   p.StreakCount,
		"isEliminated":  p.IsEliminated,
		"isSpectator":   p.IsSpectator,
		"leaderboard":   m.scoring.AssembleLeaderboard(sessionID, m.config.LeaderboardTopN),
		"timestamp":     time.Now().UnixMilli(),
	}

	if rank, err := m.deps.Live.LeaderboardRank(sessionID, participantID); err == nil {
		payload["rank"] = rank + 1
	}

	quiz, err := m.loadQuiz(hot.QuizID)
	if err != nil {
		log.Printf("[Recovery] Сессия %s: викторина недоступна, снимок без вопроса: %v", sessionID, err)
		return payload, nil
	}
	question := quiz.QuestionByID(hot.CurrentQuestionID)

	switch hot.State {
	case entity.SessionStateActiveQuestion:
		if question == nil {
			break
		}
		qp := questionPayload(question, hot.CurrentQuestionIndex, hot.CurrentQuestionStartTime)
		if question.ShuffleOptions {
			// Тот же seed - тот же порядок, что был до обрыва
			qp = shuffledPayload(qp, question, participantID)
		}
		payload["question"] = qp["question"]
		payload["startTime"] = qp["startTime"]
		payload["endTime"] = qp["endTime"]
		if remaining, ok := m.timers.Remaining(sessionID); ok {
			payload["remainingTime"] = remaining
		} else {
			payload["remainingTime"] = remainingSeconds(hot.TimerEndTime)
		}
		// Участник мог успеть ответить до обрыва: проверяем маркер
		// дедупликации, а не слова клиента
		answered, err := m.deps.Live.HasAnswered(participantID, hot.CurrentQuestionID)
		if err != nil {
			log.Printf("[Recovery] Участник %s: маркер дедупликации недоступен: %v", participantID, err)
		}
		payload["alreadyAnswered"] = answered

	case entity.SessionStateReveal:
		if question == nil {
			break
		}
		payload["reveal"] = m.revealPayload(sessionID, question)
	}

	log.Printf("[Recovery] Участник %s восстановлен в сессии %s (состояние %s)",
		participantID, sessionID, hot.State)
	return payload, nil
}
