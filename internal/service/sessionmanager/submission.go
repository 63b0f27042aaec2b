package sessionmanager

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
	"github.com/yourusername/livequiz-api/internal/websocket"
)

// SubmitRequest - payload сообщения submit_answer
type SubmitRequest struct {
	QuestionID        string   `json:"questionId"`
	SelectedOptionIDs []string `json:"selectedOptions"`
	AnswerText        string   `json:"answerText,omitempty"`
	AnswerNumber      *float64 `json:"answerNumber,omitempty"`
	ClientTimestamp   *float64 `json:"clientTimestamp"`
}

// SubmissionAccepted - результат принятого ответа для unicast
// answer_accepted отправителю
type SubmissionAccepted struct {
	QuestionID      string `json:"questionId"`
	AnswerID        string `json:"answerId"`
	ResponseTimeMs  int64  `json:"responseTimeMs"`
	ServerTimestamp int64  `json:"serverTimestamp"`
}

// HandleSubmission проводит ответ участника через упорядоченный конвейер
// валидации. Первый не пройденный шаг завершает обработку RejectError с
// соответствующим kind; обработчик превращает его в unicast answer_rejected.
// Принятый ответ попадает в буфер fast store и в очередь скоринга;
// durable-запись делает воркер скоринга.
//
// Конвейер не берет мьютекс сессии: шаг дедупликации атомарен в fast store,
// а состояние читается одним снимком.
func (m *Manager) HandleSubmission(sessionID, participantID string, req *SubmitRequest) (*SubmissionAccepted, error) {
	// Шаг 1: схема
	if err := validateSubmitSchema(req); err != nil {
		return nil, err
	}

	// Шаг 2: сессия существует в fast store (ошибки store схлопываются
	// в SESSION_NOT_FOUND - fail-closed)
	hot, err := m.loadSession(sessionID)
	if err != nil {
		return nil, err
	}

	// Шаг 3: состояние
	if hot.State != entity.SessionStateActiveQuestion {
		return nil, apperrors.Reject(apperrors.KindQuestionNotActive, "No question is currently active")
	}

	// Шаг 4: текущий вопрос
	if hot.CurrentQuestionID != req.QuestionID {
		return nil, apperrors.Reject(apperrors.KindInvalidQuestion, "Submitted question is not the active one")
	}

	// Шаг 5: таймер
	now := time.Now().UnixMilli()
	if hot.TimerEndTime == 0 {
		return nil, apperrors.Reject(apperrors.KindQuestionNotActive, "Question has no agreed end time")
	}
	// SubmitGraceMs - настраиваемый допуск на сетевую задержку; 0 дает
	// строгую отсечку now <= timerEndTime
	if now > hot.TimerEndTime+m.config.SubmitGraceMs {
		return nil, apperrors.Reject(apperrors.KindTimeExpired, "Time for this question has expired")
	}

	// Шаг 6: атомарная точка дедупликации. Проигравший гонку параллельный
	// дубль получает ALREADY_SUBMITTED здесь.
	fresh, err := m.deps.Live.MarkAnswered(participantID, req.QuestionID, m.config.ParticipantTTL)
	if err != nil {
		log.Printf("[Submission] Сессия %s: маркер дедупликации недоступен: %v", sessionID, err)
		return nil, apperrors.Reject(apperrors.KindSessionNotFound, "Session not found")
	}
	if !fresh {
		return nil, apperrors.Reject(apperrors.KindAlreadySubmitted, "Answer already submitted for this question")
	}

	// Шаг 7: допуск участника
	p, err := m.deps.Live.GetParticipant(participantID)
	if err != nil {
		return nil, apperrors.Reject(apperrors.KindParticipantNotFound, "Participant not found")
	}
	if p.SessionID != sessionID {
		return nil, apperrors.Reject(apperrors.KindParticipantNotFound, "Participant is not in this session")
	}
	if p.IsEliminated {
		return nil, apperrors.Reject(apperrors.KindParticipantEliminated, "Participant has been eliminated")
	}
	if p.IsBanned {
		return nil, apperrors.Reject(apperrors.KindParticipantBanned, "Participant is banned")
	}
	if !p.IsActive || p.IsSpectator {
		return nil, apperrors.Reject(apperrors.KindParticipantNotActive, "Participant is not active")
	}

	// Принято
	if err := m.deps.Live.TouchParticipant(participantID, m.config.ParticipantTTL); err != nil {
		log.Printf("[Submission] Участник %s: не удалось обновить TTL: %v", participantID, err)
	}

	responseTimeMs := now - hot.CurrentQuestionStartTime
	if responseTimeMs < 0 {
		responseTimeMs = 0
	}
	answerID := uuid.New().String()

	answer := &entity.Answer{
		ID:                answerID,
		SessionID:         sessionID,
		ParticipantID:     participantID,
		QuestionID:        req.QuestionID,
		SelectedOptionIDs: req.SelectedOptionIDs,
		AnswerText:        req.AnswerText,
		AnswerNumber:      req.AnswerNumber,
		SubmittedAt:       now,
		ResponseTimeMs:    responseTimeMs,
	}
	if err := m.deps.Live.AppendAnswer(sessionID, answer); err != nil {
		log.Printf("[Submission] Сессия %s: буфер ответов недоступен: %v", sessionID, err)
		return nil, apperrors.Reject(apperrors.KindInternalError, "Failed to record answer")
	}

	// Публикация в очередь скоринга. Отказ не отменяет принятый ответ:
	// ответ остается в буфере и будет подхвачен сверкой.
	item := &ScoringItem{
		AnswerID:          answerID,
		SessionID:         sessionID,
		ParticipantID:     participantID,
		QuestionID:        req.QuestionID,
		SelectedOptionIDs: req.SelectedOptionIDs,
		AnswerText:        req.AnswerText,
		AnswerNumber:      req.AnswerNumber,
		SubmittedAt:       now,
		ResponseTimeMs:    responseTimeMs,
	}
	if err := m.deps.Fanout.PublishScoringItem(sessionID, item); err != nil {
		log.Printf("[Submission] Сессия %s: ответ %s не попал в очередь скоринга: %v",
			sessionID, answerID, err)
	}

	m.publishAnswerCount(hot, req.QuestionID)

	return &SubmissionAccepted{
		QuestionID:      req.QuestionID,
		AnswerID:        answerID,
		ResponseTimeMs:  responseTimeMs,
		ServerTimestamp: now,
	}, nil
}

// publishAnswerCount инкрементирует счетчик ответивших и шлет контроллеру
// answer_count_updated. Когда ответили все допущенные, вопрос закрывается
// досрочно.
func (m *Manager) publishAnswerCount(hot *entity.SessionHot, questionID string) {
	sessionID := hot.SessionID
	counterKey := fmt.Sprintf("session:%s:question:%s:answered", sessionID, questionID)
	answered, err := m.deps.Cache.Increment(counterKey)
	if err != nil {
		log.Printf("[Submission] Сессия %s: счетчик ответов недоступен: %v", sessionID, err)
		return
	}

	total := hot.ParticipantCount
	percentage := 0.0
	if total > 0 {
		percentage = float64(answered) / float64(total) * 100
	}

	_ = m.deps.Fanout.PublishToController(sessionID, websocket.EventAnswerCountUpdated,
		map[string]interface{}{
			"questionId":        questionID,
			"answeredCount":     answered,
			"totalParticipants": total,
			"percentage":        percentage,
		})

	if total > 0 && answered >= int64(total) {
		// Не под мьютексом сессии: закрытие берет его само
		go m.QuestionFullyAnswered(sessionID, questionID)
	}
}

// validateSubmitSchema - шаг 1 конвейера: формы идентификаторов и наличие
// хотя бы одного содержательного поля ответа
func validateSubmitSchema(req *SubmitRequest) error {
	if req == nil {
		return apperrors.Reject(apperrors.KindInvalidSchema, "Missing payload")
	}
	if _, err := uuid.Parse(req.QuestionID); err != nil {
		return apperrors.Reject(apperrors.KindInvalidSchema, "questionId is not well-formed")
	}
	for _, id := range req.SelectedOptionIDs {
		if _, err := uuid.Parse(id); err != nil {
			return apperrors.Reject(apperrors.KindInvalidSchema, "selectedOptions contains a malformed id")
		}
	}
	if req.ClientTimestamp == nil {
		return apperrors.Reject(apperrors.KindInvalidSchema, "clientTimestamp must be a number")
	}
	if len(req.SelectedOptionIDs) == 0 && req.AnswerText == "" && req.AnswerNumber == nil {
		return apperrors.Reject(apperrors.KindInvalidSchema, "Answer payload is empty")
	}
	return nil
}
