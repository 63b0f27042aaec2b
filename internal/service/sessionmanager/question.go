package sessionmanager

import (
	"hash/fnv"
	"log"
	"math/rand"
	"time"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
	"github.com/yourusername/livequiz-api/internal/websocket"
)

// beginQuestion запускает вопрос с индексом index: фиксирует новое состояние
// в fast store, зеркалит в persistent store, рассылает payload вопроса и
// стартует таймер. Вызывается под мьютексом сессии.
func (m *Manager) beginQuestion(hot *entity.SessionHot, quiz *entity.Quiz, index int) error {
	sessionID := hot.SessionID
	question := &quiz.Questions[index]
	now := time.Now().UnixMilli()

	fields := map[string]interface{}{
		"state":                       entity.SessionStateActiveQuestion,
		"current_question_index":      index,
		"current_question_id":         question.ID,
		"current_question_start_time": now,
		"timer_end_time":              now + int64(question.TimeLimitSec)*1000,
	}
	if err := m.deps.Live.UpdateSessionFields(sessionID, fields); err != nil {
		log.Printf("[StateMachine] Сессия %s: ошибка записи состояния вопроса %d: %v", sessionID, index, err)
		return apperrors.Reject(apperrors.KindInternalError, "Failed to activate question")
	}
	hot.State = entity.SessionStateActiveQuestion
	hot.CurrentQuestionIndex = index
	hot.CurrentQuestionID = question.ID
	hot.CurrentQuestionStartTime = now

	m.mirrorSessionFields(sessionID, map[string]interface{}{
		"state":                       entity.SessionStateActiveQuestion,
		"current_question_index":      index,
		"current_question_id":         question.ID,
		"current_question_start_time": now,
		"timer_end_time":              now + int64(question.TimeLimitSec)*1000,
	})

	// Зрители, пришедшие во время предыдущего вопроса, становятся игроками
	// на границе вопросов
	m.promoteSpectators(sessionID)

	payload := questionPayload(question, index, now)

	if question.ShuffleOptions {
		m.publishShuffled(sessionID, question, payload)
	} else {
		_ = m.deps.Fanout.PublishToParticipants(sessionID, websocket.EventQuestionStarted, payload)
	}
	// Контроллер и большой экран всегда получают канонический порядок
	_ = m.deps.Fanout.PublishToController(sessionID, websocket.EventQuestionStarted, payload)
	_ = m.deps.Fanout.PublishToBigScreen(sessionID, websocket.EventQuestionStarted, payload)

	m.deps.AuditRepo.Append(&entity.AuditLog{
		EventType: entity.AuditQuestionStarted,
		SessionID: sessionID,
		QuizID:    quiz.ID,
		Details:   entity.JSONMap{"question_id": question.ID, "question_index": index},
	})

	// Таймер стартует ПОСЛЕ публикации question_started: внутри одного канала
	// порядок публикации сохраняется, значит тики придут после вопроса
	if err := m.timers.Start(sessionID, question.ID, question.TimeLimitSec, m.expireCallback(sessionID, question.ID)); err != nil {
		log.Printf("[StateMachine] Сессия %s: таймер вопроса %s не запущен: %v", sessionID, question.ID, err)
		return apperrors.Reject(apperrors.KindInternalError, "Failed to start question timer")
	}

	log.Printf("[StateMachine] Сессия %s: вопрос %d/%d (%s) активен, лимит %d сек",
		sessionID, index+1, len(quiz.Questions), question.ID, question.TimeLimitSec)
	return nil
}

// expireCallback возвращает onExpired для таймера вопроса. Берет мьютекс
// сессии сам: таймер срабатывает вне управляющих операций.
func (m *Manager) expireCallback(sessionID, questionID string) func() {
	return func() {
		m.advanceAfterQuestion(sessionID, questionID, "timer_expired")
	}
}

// advanceAfterQuestion закрывает вопрос questionID (по истечению таймера или
// когда все ответили) и двигает сессию в REVEAL либо, в экзаменационном
// режиме, сразу к следующему вопросу
func (m *Manager) advanceAfterQuestion(sessionID, questionID, cause string) {
	mu := m.lockSession(sessionID)
	mu.Lock()
	defer mu.Unlock()

	hot, err := m.loadSession(sessionID)
	if err != nil {
		log.Printf("[StateMachine] Сессия %s: закрытие вопроса %s не выполнено: %v", sessionID, questionID, err)
		return
	}
	// Вопрос уже мог быть закрыт хостом (skip/void/end)
	if hot.State != entity.SessionStateActiveQuestion || hot.CurrentQuestionID != questionID {
		log.Printf("[StateMachine] Сессия %s: вопрос %s уже не активен (%s), закрытие по %s пропущено",
			sessionID, questionID, hot.State, cause)
		return
	}

	quiz, err := m.loadQuiz(hot.QuizID)
	if err != nil {
		log.Printf("[StateMachine] Сессия %s: викторина недоступна при закрытии вопроса: %v", sessionID, err)
		return
	}

	m.timers.Stop(sessionID)
	log.Printf("[StateMachine] Сессия %s: вопрос %s закрыт (%s)", sessionID, questionID, cause)

	if hot.SkipRevealPhase || hot.AutoAdvance {
		nextIndex := hot.CurrentQuestionIndex + 1
		if nextIndex >= len(quiz.Questions) {
			if err := m.finishSession(hot, quiz); err != nil {
				log.Printf("[StateMachine] Сессия %s: ошибка завершения: %v", sessionID, err)
			}
			return
		}
		if err := m.beginQuestion(hot, quiz, nextIndex); err != nil {
			log.Printf("[StateMachine] Сессия %s: ошибка запуска вопроса %d: %v", sessionID, nextIndex, err)
		}
		return
	}

	if err := m.enterReveal(hot, quiz); err != nil {
		log.Printf("[StateMachine] Сессия %s: ошибка перехода в REVEAL: %v", sessionID, err)
	}
}

// promoteSpectators переводит зрителей (поздние подключения во время
// активного вопроса) в игроки на границе вопросов
func (m *Manager) promoteSpectators(sessionID string) {
	participants, err := m.deps.ParticipantRepo.GetBySession(sessionID)
	if err != nil {
		log.Printf("[StateMachine] Сессия %s: список участников недоступен для промоута зрителей: %v",
			sessionID, err)
		return
	}
	for i := range participants {
		p := &participants[i]
		if !p.IsSpectator || !p.IsActive {
			continue
		}
		if err := m.deps.Live.UpdateParticipantFields(p.ID, map[string]interface{}{
			"is_spectator": false,
		}, m.config.ParticipantTTL); err != nil {
			log.Printf("[StateMachine] Сессия %s: промоут зрителя %s не удался: %v", sessionID, p.ID, err)
			continue
		}
		m.deps.ParticipantRepo.UpdateFields(p.ID, map[string]interface{}{"is_spectator": false})
		log.Printf("[StateMachine] Сессия %s: зритель %s стал игроком", sessionID, p.ID)
	}
}

// publishShuffled рассылает каждому активному не выбывшему участнику payload
// с перемешанным порядком вариантов. Порядок детерминирован парой
// (participantID, questionID): восстановление соединения воспроизводит тот же
// порядок без его хранения.
func (m *Manager) publishShuffled(sessionID string, question *entity.Question, base map[string]interface{}) {
	participants, err := m.deps.ParticipantRepo.GetBySession(sessionID)
	if err != nil {
		log.Printf("[StateMachine] Сессия %s: список участников недоступен, рассылаем без перемешивания: %v",
			sessionID, err)
		_ = m.deps.Fanout.PublishToParticipants(sessionID, websocket.EventQuestionStarted, base)
		return
	}

	for i := range participants {
		p := &participants[i]
		if !p.IsActive || p.IsEliminated || p.IsSpectator {
			continue
		}
		payload := shuffledPayload(base, question, p.ID)
		_ = m.deps.Fanout.PublishToParticipant(p.ID, websocket.EventQuestionStarted, payload)
	}
}

// questionPayload собирает payload question_started. Поле options.isCorrect
// сюда не попадает никогда.
func questionPayload(question *entity.Question, index int, startTimeMs int64) map[string]interface{} {
	return map[string]interface{}{
		"questionIndex": index,
		"question": map[string]interface{}{
			"questionId":       question.ID,
			"questionText":     question.Text,
			"questionType":     question.Type,
			"questionImageUrl": question.ImageURL,
			"options":          SanitizeOptions(question.Options),
			"timeLimit":        question.TimeLimitSec,
			"shuffleOptions":   question.ShuffleOptions,
		},
		"startTime": startTimeMs,
		"endTime":   startTimeMs + int64(question.TimeLimitSec)*1000,
	}
}

// SanitizeOptions возвращает варианты ответа без флага правильности
func SanitizeOptions(options entity.OptionArray) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(options))
	for _, opt := range options {
		out = append(out, map[string]interface{}{
			"optionId":       opt.ID,
			"optionText":     opt.Text,
			"optionImageUrl": opt.ImageURL,
		})
	}
	return out
}

// shuffledPayload возвращает копию payload вопроса с порядком вариантов,
// детерминированным парой (participantID, questionID)
func shuffledPayload(base map[string]interface{}, question *entity.Question, participantID string) map[string]interface{} {
	shuffled := ShuffledOptions(question, participantID)

	payload := make(map[string]interface{}, len(base))
	for k, v := range base {
		payload[k] = v
	}
	q := base["question"].(map[string]interface{})
	qCopy := make(map[string]interface{}, len(q))
	for k, v := range q {
		qCopy[k] = v
	}
	qCopy["options"] = shuffled
	payload["question"] = qCopy
	return payload
}

// ShuffledOptions возвращает очищенные варианты в порядке, воспроизводимом
// от seed = hash(participantID, questionID)
func ShuffledOptions(question *entity.Question, participantID string) []map[string]interface{} {
	options := SanitizeOptions(question.Options)
	rng := rand.New(rand.NewSource(shuffleSeed(participantID, question.ID)))
	rng.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	return options
}

func shuffleSeed(participantID, questionID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(participantID))
	h.Write([]byte{':'})
	h.Write([]byte(questionID))
	return int64(h.Sum64())
}
