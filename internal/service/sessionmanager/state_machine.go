package sessionmanager

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
	"github.com/yourusername/livequiz-api/internal/websocket"
)

// Manager - оркестратор сессий: владеет машиной состояний, таймерами,
// конвейером приема ответов, скорингом и восстановлением. Все операции хоста
// одной сессии сериализуются пер-сессионным мьютексом; конвейер приема
// ответов работает без этого мьютекса (см. submission.go).
type Manager struct {
	config *Config
	deps   *Dependencies

	timers  *TimerManager
	scoring *ScoringWorker
	metrics *MetricsBroadcaster

	// sessionID -> *sync.Mutex: сериализация переходов состояния
	sessionLocks sync.Map

	// sessionID -> *entity.Quiz: викторина read-only, кешируется на время сессии
	quizCache sync.Map
}

// NewManager создает оркестратор сессий
func NewManager(config *Config, deps *Dependencies) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	deps.Config = config
	m := &Manager{
		config: config,
		deps:   deps,
	}
	m.timers = NewTimerManager(deps.Live, deps.Fanout)
	m.scoring = NewScoringWorker(config, deps)
	m.scoring.quizLoader = m.loadQuiz
	m.metrics = NewMetricsBroadcaster(config, deps)
	return m
}

// Timers открывает реестр таймеров (нужен обработчику для remainingTime
// в payload аутентификации)
func (m *Manager) Timers() *TimerManager {
	return m.timers
}

// Shutdown останавливает все фоновые контуры оркестратора
func (m *Manager) Shutdown() {
	log.Println("[StateMachine] Остановка: таймеры, скоринг, метрики")
	m.timers.StopAll()
	m.scoring.StopAll()
	m.metrics.StopAll()
}

// lockSession возвращает мьютекс сессии, создавая его при первом обращении
func (m *Manager) lockSession(sessionID string) *sync.Mutex {
	v, _ := m.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// loadQuiz возвращает викторину сессии, при первом обращении поднимая её из
// persistent store с вопросами в порядке order_index
func (m *Manager) loadQuiz(quizID string) (*entity.Quiz, error) {
	if v, ok := m.quizCache.Load(quizID); ok {
		return v.(*entity.Quiz), nil
	}
	quiz, err := m.deps.QuizRepo.GetWithQuestions(quizID)
	if err != nil {
		return nil, err
	}
	m.quizCache.Store(quizID, quiz)
	return quiz, nil
}

// loadSession возвращает авторитетный снимок сессии из fast store.
// Ошибки store схлопываются в SESSION_NOT_FOUND (fail-closed).
func (m *Manager) loadSession(sessionID string) (*entity.SessionHot, error) {
	hot, err := m.deps.Live.GetSession(sessionID)
	if err != nil {
		if err != apperrors.ErrNotFound {
			log.Printf("[StateMachine] Ошибка чтения сессии %s из fast store: %v", sessionID, err)
		}
		return nil, apperrors.Reject(apperrors.KindSessionNotFound, "Session not found")
	}
	return hot, nil
}

// requireHost проверяет, что аутентифицированная сессия хоста совпадает с
// целевой. Все операции управления привилегированы.
func requireHost(hot *entity.SessionHot, hostSessionID string) error {
	if hot.SessionID != hostSessionID {
		return apperrors.Reject(apperrors.KindInvalidRequest, "Host is not bound to this session")
	}
	return nil
}

// StartQuiz переводит сессию LOBBY -> ACTIVE_QUESTION и запускает первый
// вопрос. Требует хотя бы одного вопроса в викторине.
func (m *Manager) StartQuiz(sessionID, hostSessionID string) error {
	mu := m.lockSession(sessionID)
	mu.Lock()
	defer mu.Unlock()

	hot, err := m.loadSession(sessionID)
	if err != nil {
		return err
	}
	if err := requireHost(hot, hostSessionID); err != nil {
		return err
	}
	if hot.State != entity.SessionStateLobby {
		return apperrors.Reject(apperrors.KindInvalidState,
			fmt.Sprintf("Cannot start quiz from state %s", hot.State))
	}

	quiz, err := m.loadQuiz(hot.QuizID)
	if err != nil {
		log.Printf("[StateMachine] Сессия %s: викторина %s не загружена: %v", sessionID, hot.QuizID, err)
		return apperrors.Reject(apperrors.KindInternalError, "Quiz could not be loaded")
	}
	if len(quiz.Questions) == 0 {
		return apperrors.Reject(apperrors.KindInvalidRequest, "Quiz has no questions")
	}

	log.Printf("[StateMachine] Сессия %s: запуск викторины %s (%d вопросов)",
		sessionID, quiz.ID, len(quiz.Questions))

	// Воркер скоринга и метрики живут от старта до конца сессии
	m.scoring.Start(sessionID)
	m.metrics.Start(sessionID)

	m.deps.Fanout.BroadcastToSession(sessionID, websocket.EventQuizStarted, map[string]interface{}{
		"sessionId":      sessionID,
		"totalQuestions": len(quiz.Questions),
		"timestamp":      time.Now().UnixMilli(),
	})

	m.deps.AuditRepo.Append(&entity.AuditLog{
		EventType: entity.AuditQuizStarted,
		SessionID: sessionID,
		QuizID:    quiz.ID,
		Details:   entity.JSONMap{"total_questions": len(quiz.Questions)},
	})

	return m.beginQuestion(hot, quiz, 0)
}

// NextQuestion продвигает сессию: из REVEAL к следующему вопросу или к
// финалу; из ACTIVE_QUESTION - только при экзаменационном пропуске reveal.
func (m *Manager) NextQuestion(sessionID, hostSessionID string) error {
	mu := m.lockSession(sessionID)
	mu.Lock()
	defer mu.Unlock()

	hot, err := m.loadSession(sessionID)
	if err != nil {
		return err
	}
	if err := requireHost(hot, hostSessionID); err != nil {
		return err
	}

	switch hot.State {
	case entity.SessionStateReveal:
		// Легальный путь
	case entity.SessionStateActiveQuestion:
		if !hot.SkipRevealPhase && !hot.AutoAdvance {
			return apperrors.Reject(apperrors.KindInvalidState,
				"next_question from ACTIVE_QUESTION requires exam mode")
		}
	default:
		return apperrors.Reject(apperrors.KindInvalidState,
			fmt.Sprintf("Cannot advance from state %s", hot.State))
	}

	quiz, err := m.loadQuiz(hot.QuizID)
	if err != nil {
		return apperrors.Reject(apperrors.KindInternalError, "Quiz could not be loaded")
	}

	m.timers.Stop(sessionID)

	nextIndex := hot.CurrentQuestionIndex + 1
	if nextIndex >= len(quiz.Questions) {
		return m.finishSession(hot, quiz)
	}
	return m.beginQuestion(hot, quiz, nextIndex)
}

// SkipQuestion прерывает активный вопрос без ожидания таймера
func (m *Manager) SkipQuestion(sessionID, hostSessionID, reason string) error {
	mu := m.lockSession(sessionID)
	mu.Lock()
	defer mu.Unlock()

	hot, err := m.loadSession(sessionID)
	if err != nil {
		return err
	}
	if err := requireHost(hot, hostSessionID); err != nil {
		return err
	}
	if hot.State != entity.SessionStateActiveQuestion {
		return apperrors.Reject(apperrors.KindInvalidState, "No active question to skip")
	}

	quiz, err := m.loadQuiz(hot.QuizID)
	if err != nil {
		return apperrors.Reject(apperrors.KindInternalError, "Quiz could not be loaded")
	}

	m.timers.Stop(sessionID)

	skipReveal := hot.SkipRevealPhase || hot.AutoAdvance
	m.deps.Fanout.BroadcastToSession(sessionID, websocket.EventQuestionSkipped, map[string]interface{}{
		"questionId":         hot.CurrentQuestionID,
		"questionIndex":      hot.CurrentQuestionIndex,
		"reason":             reason,
		"timestamp":          time.Now().UnixMilli(),
		"examModeSkipReveal": skipReveal,
	})

	m.deps.AuditRepo.Append(&entity.AuditLog{
		EventType: entity.AuditQuestionSkipped,
		SessionID: sessionID,
		QuizID:    quiz.ID,
		Details:   entity.JSONMap{"question_id": hot.CurrentQuestionID, "reason": reason},
	})

	if skipReveal {
		nextIndex := hot.CurrentQuestionIndex + 1
		if nextIndex >= len(quiz.Questions) {
			return m.finishSession(hot, quiz)
		}
		return m.beginQuestion(hot, quiz, nextIndex)
	}
	return m.enterReveal(hot, quiz)
}

// VoidQuestion аннулирует вопрос: очки за него вычитаются у всех ответивших,
// лидерборд пересчитывается. Если аннулирован текущий активный вопрос,
// сессия сразу продвигается дальше, минуя REVEAL этого вопроса.
func (m *Manager) VoidQuestion(sessionID, hostSessionID, questionID, reason string) error {
	mu := m.lockSession(sessionID)
	mu.Lock()
	defer mu.Unlock()

	hot, err := m.loadSession(sessionID)
	if err != nil {
		return err
	}
	if err := requireHost(hot, hostSessionID); err != nil {
		return err
	}

	quiz, err := m.loadQuiz(hot.QuizID)
	if err != nil {
		return apperrors.Reject(apperrors.KindInternalError, "Quiz could not be loaded")
	}
	if quiz.QuestionByID(questionID) == nil {
		return apperrors.Reject(apperrors.KindInvalidQuestion, "Question does not belong to this quiz")
	}

	session, err := m.deps.SessionRepo.GetByID(sessionID)
	if err != nil {
		return apperrors.Reject(apperrors.KindSessionNotFound, "Session not found")
	}
	if session.IsQuestionVoided(questionID) {
		return apperrors.Reject(apperrors.KindInvalidRequest, "Question is already voided")
	}

	// Маркер в fast store ставится ДО пересчета: рабочий элемент скоринга,
	// доставленный воркеру после этой точки, ничего не начислит
	if err := m.deps.Live.MarkQuestionVoided(sessionID, questionID); err != nil {
		log.Printf("[StateMachine] Сессия %s: маркер аннулирования %s не записан: %v",
			sessionID, questionID, err)
		return apperrors.Reject(apperrors.KindInternalError, "Failed to void question")
	}

	if err := m.subtractVoidedPoints(sessionID, questionID); err != nil {
		log.Printf("[StateMachine] Сессия %s: ошибка пересчета очков при аннулировании %s: %v",
			sessionID, questionID, err)
		return apperrors.Reject(apperrors.KindInternalError, "Failed to recompute scores")
	}

	session.VoidedQuestions = append(session.VoidedQuestions, questionID)
	if err := m.deps.SessionRepo.Update(session); err != nil {
		log.Printf("[StateMachine] Сессия %s: ошибка записи voided_questions: %v", sessionID, err)
	}

	m.deps.Fanout.BroadcastToSession(sessionID, websocket.EventQuestionVoided, map[string]interface{}{
		"questionId": questionID,
		"reason":     reason,
		"timestamp":  time.Now().UnixMilli(),
	})

	m.deps.AuditRepo.Append(&entity.AuditLog{
		EventType: entity.AuditQuestionVoided,
		SessionID: sessionID,
		QuizID:    quiz.ID,
		Details:   entity.JSONMap{"question_id": questionID, "reason": reason},
	})

	m.scoring.PublishLeaderboard(sessionID)

	// Аннулирование текущего активного вопроса продвигает сессию дальше
	if hot.State == entity.SessionStateActiveQuestion && hot.CurrentQuestionID == questionID {
		m.timers.Stop(sessionID)
		nextIndex := hot.CurrentQuestionIndex + 1
		if nextIndex >= len(quiz.Questions) {
			return m.finishSession(hot, quiz)
		}
		return m.beginQuestion(hot, quiz, nextIndex)
	}
	return nil
}

// subtractVoidedPoints вычитает у каждого ответившего на вопрос начисленные
// за него очки (не ниже нуля) и обновляет лидерборд. Начисления берутся из
// финализированных записей: буфер fast store хранит ответы до скоринга.
func (m *Manager) subtractVoidedPoints(sessionID, questionID string) error {
	answers, err := m.deps.AnswerRepo.GetByQuestion(sessionID, questionID)
	if err != nil {
		return err
	}
	for i := range answers {
		a := &answers[i]
		if a.PointsAwarded == 0 {
			continue
		}
		p, err := m.deps.Live.GetParticipant(a.ParticipantID)
		if err != nil {
			log.Printf("[StateMachine] Аннулирование %s: горячая запись участника %s недоступна: %v",
				questionID, a.ParticipantID, err)
			continue
		}
		p.TotalScore -= a.PointsAwarded
		if p.TotalScore < 0 {
			p.TotalScore = 0
		}
		if err := m.deps.Live.UpdateParticipantFields(a.ParticipantID, map[string]interface{}{
			"total_score": p.TotalScore,
		}, m.config.ParticipantTTL); err != nil {
			log.Printf("[StateMachine] Аннулирование %s: ошибка обновления участника %s: %v",
				questionID, a.ParticipantID, err)
			continue
		}
		if err := m.deps.Live.UpdateLeaderboard(sessionID, a.ParticipantID, p.CompositeScore()); err != nil {
			log.Printf("[StateMachine] Аннулирование %s: ошибка лидерборда для %s: %v",
				questionID, a.ParticipantID, err)
		}
		m.deps.ParticipantRepo.UpdateFields(a.ParticipantID, map[string]interface{}{
			"total_score": p.TotalScore,
		})
	}
	return nil
}

// PauseTimer замораживает отсчет текущего вопроса
func (m *Manager) PauseTimer(sessionID, hostSessionID string) error {
	mu := m.lockSession(sessionID)
	mu.Lock()
	defer mu.Unlock()

	hot, err := m.loadSession(sessionID)
	if err != nil {
		return err
	}
	if err := requireHost(hot, hostSessionID); err != nil {
		return err
	}
	if hot.State != entity.SessionStateActiveQuestion {
		return apperrors.Reject(apperrors.KindInvalidState, "No active question")
	}

	remaining, err := m.timers.Pause(sessionID)
	if err != nil {
		return apperrors.Reject(apperrors.KindInvalidState, "No running timer")
	}

	m.deps.Fanout.BroadcastToSession(sessionID, websocket.EventTimerPaused, map[string]interface{}{
		"questionId":       hot.CurrentQuestionID,
		"remainingSeconds": remaining,
		"timestamp":        time.Now().UnixMilli(),
	})
	return nil
}

// ResumeTimer возобновляет замороженный отсчет
func (m *Manager) ResumeTimer(sessionID, hostSessionID string) error {
	mu := m.lockSession(sessionID)
	mu.Lock()
	defer mu.Unlock()

	hot, err := m.loadSession(sessionID)
	if err != nil {
		return err
	}
	if err := requireHost(hot, hostSessionID); err != nil {
		return err
	}
	if hot.State != entity.SessionStateActiveQuestion {
		return apperrors.Reject(apperrors.KindInvalidState, "No active question")
	}

	remaining, err := m.timers.Resume(sessionID)
	if err != nil {
		return apperrors.Reject(apperrors.KindInvalidState, "No paused timer")
	}

	m.deps.Fanout.BroadcastToSession(sessionID, websocket.EventTimerResumed, map[string]interface{}{
		"questionId":       hot.CurrentQuestionID,
		"remainingSeconds": remaining,
		"timestamp":        time.Now().UnixMilli(),
	})
	return nil
}

// ResetTimer перезапускает отсчет текущего вопроса с новым лимитом
func (m *Manager) ResetTimer(sessionID, hostSessionID string, newLimitSec int) error {
	mu := m.lockSession(sessionID)
	mu.Lock()
	defer mu.Unlock()

	hot, err := m.loadSession(sessionID)
	if err != nil {
		return err
	}
	if err := requireHost(hot, hostSessionID); err != nil {
		return err
	}
	if hot.State != entity.SessionStateActiveQuestion {
		return apperrors.Reject(apperrors.KindInvalidState, "No active question")
	}
	if !entity.ValidTimeLimit(newLimitSec) {
		return apperrors.Reject(apperrors.KindInvalidRequest,
			fmt.Sprintf("Time limit must be between %d and %d seconds",
				entity.MinTimeLimitSec, entity.MaxTimeLimitSec))
	}

	if err := m.timers.Reset(sessionID, newLimitSec); err != nil {
		return apperrors.Reject(apperrors.KindInvalidState, "No running timer")
	}

	m.deps.Fanout.BroadcastToSession(sessionID, websocket.EventTimerReset, map[string]interface{}{
		"questionId":       hot.CurrentQuestionID,
		"remainingSeconds": newLimitSec,
		"timestamp":        time.Now().UnixMilli(),
	})
	return nil
}

// EndQuiz завершает сессию из любого незавершенного состояния
func (m *Manager) EndQuiz(sessionID, hostSessionID string) error {
	mu := m.lockSession(sessionID)
	mu.Lock()
	defer mu.Unlock()

	hot, err := m.loadSession(sessionID)
	if err != nil {
		return err
	}
	if err := requireHost(hot, hostSessionID); err != nil {
		return err
	}
	if hot.State == entity.SessionStateEnded {
		return apperrors.Reject(apperrors.KindSessionEnded, "Session is already ended")
	}

	quiz, err := m.loadQuiz(hot.QuizID)
	if err != nil {
		return apperrors.Reject(apperrors.KindInternalError, "Quiz could not be loaded")
	}

	m.timers.Stop(sessionID)
	return m.finishSession(hot, quiz)
}

// ToggleLateJoiners обновляет флаг allowLateJoiners живой сессии
func (m *Manager) ToggleLateJoiners(sessionID, hostSessionID string, allow bool) error {
	mu := m.lockSession(sessionID)
	mu.Lock()
	defer mu.Unlock()

	hot, err := m.loadSession(sessionID)
	if err != nil {
		return err
	}
	if err := requireHost(hot, hostSessionID); err != nil {
		return err
	}
	if hot.State == entity.SessionStateEnded {
		return apperrors.Reject(apperrors.KindSessionEnded, "Session is already ended")
	}

	if err := m.deps.Live.UpdateSessionFields(sessionID, map[string]interface{}{
		"allow_late_joiners": allow,
	}); err != nil {
		return apperrors.Reject(apperrors.KindInternalError, "Failed to update session")
	}
	m.mirrorSessionFields(sessionID, map[string]interface{}{"allow_late_joiners": allow})

	_ = m.deps.Fanout.PublishToBigScreen(sessionID, websocket.EventLateJoinersUpdated, map[string]interface{}{
		"allowLateJoiners": allow,
		"timestamp":        time.Now().UnixMilli(),
	})
	return nil
}

// KickParticipant исключает участника из сессии
func (m *Manager) KickParticipant(sessionID, hostSessionID, participantID, reason string) error {
	return m.removeParticipant(sessionID, hostSessionID, participantID, reason, false)
}

// BanParticipant исключает участника и добавляет его IP в бан-лист сессии.
// Повторные входы с этого IP отсекаются на границе join (вне ядра).
func (m *Manager) BanParticipant(sessionID, hostSessionID, participantID, reason string) error {
	return m.removeParticipant(sessionID, hostSessionID, participantID, reason, true)
}

func (m *Manager) removeParticipant(sessionID, hostSessionID, participantID, reason string, ban bool) error {
	mu := m.lockSession(sessionID)
	mu.Lock()
	defer mu.Unlock()

	hot, err := m.loadSession(sessionID)
	if err != nil {
		return err
	}
	if err := requireHost(hot, hostSessionID); err != nil {
		return err
	}

	p, err := m.deps.Live.GetParticipant(participantID)
	if err != nil || p.SessionID != sessionID {
		return apperrors.Reject(apperrors.KindParticipantNotFound, "Participant not found in this session")
	}
	if !p.IsActive {
		return apperrors.Reject(apperrors.KindParticipantNotActive, "Participant is not active")
	}

	// Сначала причина - потом разрыв соединения
	notice := websocket.EventKicked
	leftEvent := websocket.EventParticipantKicked
	auditType := entity.AuditParticipantKick
	if ban {
		notice = websocket.EventBanned
		leftEvent = websocket.EventParticipantBanned
		auditType = entity.AuditParticipantBan
	}
	_ = m.deps.Fanout.PublishToParticipant(participantID, notice, map[string]interface{}{
		"reason":    reason,
		"message":   "You have been removed from the session",
		"timestamp": time.Now().UnixMilli(),
	})
	m.deps.Hub.DisconnectParticipant(participantID)

	fields := map[string]interface{}{"is_active": false}
	if ban {
		fields["is_banned"] = true
	}
	if err := m.deps.Live.UpdateParticipantFields(participantID, fields, m.config.ParticipantTTL); err != nil {
		log.Printf("[StateMachine] Сессия %s: ошибка деактивации участника %s: %v",
			sessionID, participantID, err)
	}
	if err := m.deps.Live.RemoveFromLeaderboard(sessionID, participantID); err != nil {
		log.Printf("[StateMachine] Сессия %s: ошибка удаления %s из лидерборда: %v",
			sessionID, participantID, err)
	}
	if ban && p.IP != "" {
		if err := m.deps.Live.AddBannedIP(sessionID, p.IP); err != nil {
			log.Printf("[StateMachine] Сессия %s: ошибка бана IP %s: %v", sessionID, p.IP, err)
		}
	}

	newCount := hot.ParticipantCount - 1
	if newCount < 0 {
		newCount = 0
	}
	if err := m.deps.Live.UpdateSessionFields(sessionID, map[string]interface{}{
		"participant_count": newCount,
	}); err != nil {
		log.Printf("[StateMachine] Сессия %s: ошибка обновления participant_count: %v", sessionID, err)
	}

	// Зеркалим в persistent store
	m.deps.ParticipantRepo.UpdateFields(participantID, fields)
	if session, err := m.deps.SessionRepo.GetByID(sessionID); err == nil {
		session.ActiveParticipants = session.ActiveParticipants.Remove(participantID)
		session.ParticipantCount = newCount
		if ban && p.IP != "" {
			if !session.BannedIPs.Contains(p.IP) {
				session.BannedIPs = append(session.BannedIPs, p.IP)
			}
		}
		if err := m.deps.SessionRepo.Update(session); err != nil {
			log.Printf("[StateMachine] Сессия %s: ошибка зеркалирования после kick/ban: %v", sessionID, err)
		}
	}

	m.deps.Fanout.BroadcastToSession(sessionID, leftEvent, map[string]interface{}{
		"participantId": participantID,
		"nickname":      p.Nickname,
		"reason":        reason,
		"timestamp":     time.Now().UnixMilli(),
	})
	m.deps.Fanout.BroadcastToSession(sessionID, websocket.EventParticipantLeft, map[string]interface{}{
		"participantId": participantID,
		"nickname":      p.Nickname,
		"reason":        "kicked",
		"timestamp":     time.Now().UnixMilli(),
	})

	m.deps.AuditRepo.Append(&entity.AuditLog{
		EventType:     auditType,
		SessionID:     sessionID,
		ParticipantID: participantID,
		Details:       entity.JSONMap{"reason": reason, "banned": ban},
	})

	m.scoring.PublishLeaderboard(sessionID)
	return nil
}

// finishSession переводит сессию в ENDED: финальный лидерборд, сверка
// буфера ответов, остановка фоновых контуров. Вызывается под мьютексом сессии.
func (m *Manager) finishSession(hot *entity.SessionHot, quiz *entity.Quiz) error {
	sessionID := hot.SessionID
	log.Printf("[StateMachine] Сессия %s: завершение (вопрос %d/%d)",
		sessionID, hot.CurrentQuestionIndex+1, hot.TotalQuestions)

	if err := m.deps.Live.UpdateSessionFields(sessionID, map[string]interface{}{
		"state": entity.SessionStateEnded,
	}); err != nil {
		return apperrors.Reject(apperrors.KindInternalError, "Failed to end session")
	}
	m.mirrorSessionFields(sessionID, map[string]interface{}{"state": entity.SessionStateEnded})

	finalLeaderboard := m.scoring.AssembleLeaderboard(sessionID, 0)
	m.deps.Fanout.BroadcastToSession(sessionID, websocket.EventQuizEnded, map[string]interface{}{
		"sessionId":        sessionID,
		"finalLeaderboard": finalLeaderboard,
		"timestamp":        time.Now().UnixMilli(),
	})

	m.deps.AuditRepo.Append(&entity.AuditLog{
		EventType: entity.AuditQuizEnded,
		SessionID: sessionID,
		QuizID:    quiz.ID,
		Details:   entity.JSONMap{"participant_count": hot.ParticipantCount},
	})

	// Сверка: буфер ответов -> answers, горячие записи -> participants
	m.Reconcile(sessionID)

	m.scoring.Stop(sessionID)
	m.metrics.Stop(sessionID)
	return nil
}

// mirrorSessionFields зеркалит изменение сессии в persistent store с одним
// повтором. Продолжительный отказ не валит операцию: fast store авторитетен,
// записывается аудит-событие для сверки.
func (m *Manager) mirrorSessionFields(sessionID string, fields map[string]interface{}) {
	err := m.deps.SessionRepo.UpdateFields(sessionID, fields)
	if err != nil {
		log.Printf("[StateMachine] Сессия %s: ошибка зеркалирования (%v), повтор", sessionID, err)
		err = m.deps.SessionRepo.UpdateFields(sessionID, fields)
	}
	if err != nil {
		log.Printf("[StateMachine] Сессия %s: зеркалирование не удалось: %v", sessionID, err)
		m.deps.AuditRepo.Append(&entity.AuditLog{
			EventType: entity.AuditMirrorFailed,
			SessionID: sessionID,
			Details:   entity.JSONMap{"fields": fmt.Sprintf("%v", fields)},
			Error:     err.Error(),
		})
	}
}
