package sessionmanager

import (
	"log"
	"time"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/websocket"
)

// runEliminationRound проводит раунд выбывания после REVEAL, если он положен
// по расписанию викторины. Выбывают нижние floor(activeCount * pct / 100)
// позиций лидерборда. Выбывшие остаются подключены как зрители и видят
// дальнейший ход игры. Вызывается под мьютексом сессии.
func (m *Manager) runEliminationRound(hot *entity.SessionHot, quiz *entity.Quiz) {
	sessionID := hot.SessionID
	if !quiz.EliminationDue(hot.CurrentQuestionIndex) {
		return
	}

	activeCount, err := m.deps.Live.LeaderboardSize(sessionID)
	if err != nil {
		log.Printf("[Elimination] Сессия %s: размер лидерборда недоступен: %v", sessionID, err)
		return
	}
	numToEliminate := activeCount * int64(quiz.EliminationSettings.Percentage) / 100
	if numToEliminate <= 0 {
		log.Printf("[Elimination] Сессия %s: раунд после вопроса %d никого не выбивает (%d активных)",
			sessionID, hot.CurrentQuestionIndex, activeCount)
		return
	}
	// Хотя бы один игрок остается
	if numToEliminate >= activeCount {
		numToEliminate = activeCount - 1
	}
	if numToEliminate <= 0 {
		return
	}

	bottom, err := m.deps.Live.LeaderboardBottom(sessionID, numToEliminate)
	if err != nil {
		log.Printf("[Elimination] Сессия %s: низ лидерборда недоступен: %v", sessionID, err)
		return
	}

	log.Printf("[Elimination] Сессия %s: выбывает %d из %d после вопроса %d",
		sessionID, len(bottom), activeCount, hot.CurrentQuestionIndex)

	eliminatedIDs := make([]string, 0, len(bottom))
	for _, row := range bottom {
		pid := row.ParticipantID
		p, err := m.deps.Live.GetParticipant(pid)
		if err != nil {
			log.Printf("[Elimination] Сессия %s: горячая запись %s недоступна: %v", sessionID, pid, err)
			continue
		}

		rank, rankErr := m.deps.Live.LeaderboardRank(sessionID, pid)
		finalRank := int64(0)
		if rankErr == nil {
			finalRank = rank + 1
		}

		fields := map[string]interface{}{
			"is_eliminated": true,
			"is_spectator":  true,
		}
		if err := m.deps.Live.UpdateParticipantFields(pid, fields, m.config.ParticipantTTL); err != nil {
			log.Printf("[Elimination] Сессия %s: ошибка пометки %s выбывшим: %v", sessionID, pid, err)
			continue
		}
		m.deps.ParticipantRepo.UpdateFields(pid, fields)

		// Выбывшие не участвуют в следующих раундах отсечения
		if err := m.deps.Live.RemoveFromLeaderboard(sessionID, pid); err != nil {
			log.Printf("[Elimination] Сессия %s: ошибка удаления %s из лидерборда: %v", sessionID, pid, err)
		}

		eliminatedIDs = append(eliminatedIDs, pid)

		_ = m.deps.Fanout.PublishToParticipant(pid, websocket.EventEliminated, map[string]interface{}{
			"participantId": pid,
			"finalRank":     finalRank,
			"finalScore":    p.TotalScore,
			"message":       "You have been eliminated. You can keep watching the game.",
			"timestamp":     time.Now().UnixMilli(),
		})
	}

	if len(eliminatedIDs) == 0 {
		return
	}

	// Зеркалим список выбывших в строку сессии
	if session, err := m.deps.SessionRepo.GetByID(sessionID); err == nil {
		for _, pid := range eliminatedIDs {
			if !session.EliminatedParticipants.Contains(pid) {
				session.EliminatedParticipants = append(session.EliminatedParticipants, pid)
			}
		}
		if err := m.deps.SessionRepo.Update(session); err != nil {
			log.Printf("[Elimination] Сессия %s: ошибка зеркалирования выбывших: %v", sessionID, err)
		}
	}

	newCount := hot.ParticipantCount - len(eliminatedIDs)
	if newCount < 0 {
		newCount = 0
	}
	hot.ParticipantCount = newCount
	hot.EliminatedCount += len(eliminatedIDs)
	counts := map[string]interface{}{
		"participant_count": newCount,
		"eliminated_count":  hot.EliminatedCount,
	}
	if err := m.deps.Live.UpdateSessionFields(sessionID, counts); err != nil {
		log.Printf("[Elimination] Сессия %s: ошибка обновления счетчиков: %v", sessionID, err)
	}
	m.mirrorSessionFields(sessionID, counts)

	m.broadcastParticipantCount(sessionID, newCount, hot.EliminatedCount)

	m.deps.AuditRepo.Append(&entity.AuditLog{
		EventType: entity.AuditElimination,
		SessionID: sessionID,
		QuizID:    quiz.ID,
		Details: entity.JSONMap{
			"question_index":  hot.CurrentQuestionIndex,
			"eliminated":      eliminatedIDs,
			"remaining_count": newCount,
		},
	})
}
