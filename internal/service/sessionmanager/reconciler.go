package sessionmanager

import (
	"errors"
	"log"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/domain/repository"
)

// Reconcile сводит fast store и persistent store в конце сессии:
// буферные ответы, не финализированные воркером скоринга (например, из-за
// отказа очереди), досчитываются и записываются в durable store, итоговые
// показатели участников зеркалятся из горячих записей. Итоговые суммы НЕ
// пересчитываются задним числом: во время игры авторитетен fast store, и
// уже разосланный финальный лидерборд остается как есть.
func (m *Manager) Reconcile(sessionID string) {
	buffered, err := m.deps.Live.AnswersBuffer(sessionID)
	if err != nil {
		log.Printf("[Reconcile] Сессия %s: буфер ответов недоступен: %v", sessionID, err)
		buffered = nil
	}

	hot, err := m.loadSession(sessionID)
	var quiz *entity.Quiz
	if err == nil {
		quiz, err = m.loadQuiz(hot.QuizID)
		if err != nil {
			log.Printf("[Reconcile] Сессия %s: викторина недоступна: %v", sessionID, err)
			quiz = nil
		}
	}

	recovered := 0
	for i := range buffered {
		a := &buffered[i]
		voided, verr := m.deps.Live.IsQuestionVoided(sessionID, a.QuestionID)
		if verr != nil {
			log.Printf("[Reconcile] Сессия %s: проверка аннулирования %s не удалась: %v",
				sessionID, a.QuestionID, verr)
		}
		if quiz != nil && !voided {
			if question := quiz.QuestionByID(a.QuestionID); question != nil {
				// Контекст серии для отставшего ответа потерян: считаем
				// без стрик-бонуса
				item := &ScoringItem{
					SelectedOptionIDs: a.SelectedOptionIDs,
					AnswerNumber:      a.AnswerNumber,
					ResponseTimeMs:    a.ResponseTimeMs,
				}
				result := ScoreAnswer(quiz, question, item, 0)
				a.IsCorrect = result.IsCorrect
				a.PointsAwarded = result.PointsAwarded
				a.SpeedBonusApplied = result.SpeedBonus
				a.PartialCreditApplied = result.PartialCredit
				a.NegativeDeductionApplied = result.NegativeDeduction
			}
		}
		if err := m.deps.AnswerRepo.Save(a); err != nil {
			if errors.Is(err, repository.ErrDuplicateAnswer) {
				// Норма: воркер скоринга уже финализировал этот ответ
				continue
			}
			log.Printf("[Reconcile] Сессия %s: ответ %s не записан: %v", sessionID, a.ID, err)
			continue
		}
		recovered++
	}

	mirrored := 0
	participants, err := m.deps.ParticipantRepo.GetBySession(sessionID)
	if err != nil {
		log.Printf("[Reconcile] Сессия %s: список участников недоступен: %v", sessionID, err)
		participants = nil
	}
	for i := range participants {
		pid := participants[i].ID
		p, err := m.deps.Live.GetParticipant(pid)
		if err != nil {
			// Горячая запись истекла; persistent store уже последнее слово
			continue
		}
		if err := m.deps.ParticipantRepo.UpdateFields(pid, map[string]interface{}{
			"total_score":   p.TotalScore,
			"total_time_ms": p.TotalTimeMs,
			"streak_count":  p.StreakCount,
			"is_eliminated": p.IsEliminated,
			"is_spectator":  p.IsSpectator,
			"is_active":     p.IsActive,
		}); err != nil {
			log.Printf("[Reconcile] Сессия %s: зеркалирование участника %s не удалось: %v",
				sessionID, pid, err)
			continue
		}
		mirrored++
	}

	log.Printf("[Reconcile] Сессия %s: досчитано ответов %d, отзеркалено участников %d",
		sessionID, recovered, mirrored)

	m.deps.AuditRepo.Append(&entity.AuditLog{
		EventType: entity.AuditReconcileApplied,
		SessionID: sessionID,
		Details: entity.JSONMap{
			"buffered_answers":      len(buffered),
			"recovered_answers":     recovered,
			"mirrored_participants": mirrored,
		},
	})
}
