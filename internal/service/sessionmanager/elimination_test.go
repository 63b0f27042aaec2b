package sessionmanager

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/websocket"
)

// seedEliminationSession наполняет fast store сессией с count участниками,
// чей счет пропорционален номеру (p-0 — худший)
func seedEliminationSession(t *testing.T, deps *Dependencies, count int) *entity.SessionHot {
	t.Helper()
	hot := &entity.SessionHot{
		SessionID:            testSessionID,
		QuizID:               "quiz-1",
		State:                entity.SessionStateReveal,
		QuizType:             entity.QuizTypeElimination,
		CurrentQuestionIndex: 0,
		ParticipantCount:     count,
	}
	require.NoError(t, deps.Live.SaveSession(hot))
	for i := 0; i < count; i++ {
		p := &entity.ParticipantHot{
			ParticipantID: fmt.Sprintf("p-%d", i),
			SessionID:     testSessionID,
			Nickname:      fmt.Sprintf("Игрок %d", i),
			TotalScore:    100 * (i + 1),
			IsActive:      true,
		}
		require.NoError(t, deps.Live.SaveParticipant(p, 5*time.Minute))
		require.NoError(t, deps.Live.UpdateLeaderboard(testSessionID, p.ParticipantID, p.CompositeScore()))
	}
	return hot
}

func eliminationQuiz(percentage int) *entity.Quiz {
	return &entity.Quiz{
		ID:       "quiz-1",
		QuizType: entity.QuizTypeElimination,
		EliminationSettings: &entity.EliminationSettings{
			Percentage: percentage,
			Frequency:  entity.EliminationEveryQuestion,
		},
	}
}

func TestEliminationRound_BottomPercentEliminated(t *testing.T) {
	// Arrange: 10 участников, 20% — выбывают двое худших
	m, deps, _ := newTestManager(t)
	hot := seedEliminationSession(t, deps, 10)

	sessionRepo := new(MockSessionRepo)
	sessionRepo.On("GetByID", testSessionID).Return(&entity.Session{ID: testSessionID}, nil)
	sessionRepo.On("Update", mock.AnythingOfType("*entity.Session")).Return(nil)
	sessionRepo.On("UpdateFields", testSessionID, mock.Anything).Return(nil)
	participantRepo := new(MockParticipantRepo)
	participantRepo.On("UpdateFields", mock.Anything, mock.Anything).Return(nil)
	auditRepo := new(MockAuditRepo)
	auditRepo.On("Append", mock.Anything).Return()
	deps.SessionRepo = sessionRepo
	deps.ParticipantRepo = participantRepo
	deps.AuditRepo = auditRepo

	// Act
	m.runEliminationRound(hot, eliminationQuiz(20))

	// Assert: худшие p-0 и p-1 выбыли и стали зрителями
	for _, pid := range []string{"p-0", "p-1"} {
		p, err := deps.Live.GetParticipant(pid)
		require.NoError(t, err)
		assert.True(t, p.IsEliminated, "%s должен быть выбывшим", pid)
		assert.True(t, p.IsSpectator, "%s должен стать зрителем", pid)
	}
	survivor, err := deps.Live.GetParticipant("p-2")
	require.NoError(t, err)
	assert.False(t, survivor.IsEliminated)

	// Выбывшие ушли из лидерборда
	size, err := deps.Live.LeaderboardSize(testSessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)

	// Счетчики сессии в fast store обновлены
	updated, err := deps.Live.GetSession(testSessionID)
	require.NoError(t, err)
	assert.Equal(t, 8, updated.ParticipantCount)
	assert.Equal(t, 2, updated.EliminatedCount)

	// Выбывание зеркалится и журналируется
	sessionRepo.AssertExpectations(t)
	participantRepo.AssertCalled(t, "UpdateFields", "p-0", mock.Anything)
	auditRepo.AssertCalled(t, "Append", mock.MatchedBy(func(e *entity.AuditLog) bool {
		return e.EventType == entity.AuditElimination
	}))
}

func TestEliminationRound_SmallFieldNoOne(t *testing.T) {
	// Arrange: 3 участника, 20% — floor(0.6) = 0, никто не выбывает
	m, deps, _ := newTestManager(t)
	hot := seedEliminationSession(t, deps, 3)

	// Act
	m.runEliminationRound(hot, eliminationQuiz(20))

	// Assert
	size, err := deps.Live.LeaderboardSize(testSessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
}

func TestEliminationRound_AtLeastOneSurvives(t *testing.T) {
	// Arrange: 2 участника, 100% — клэмп оставляет одного
	m, deps, _ := newTestManager(t)
	hot := seedEliminationSession(t, deps, 2)

	sessionRepo := new(MockSessionRepo)
	sessionRepo.On("GetByID", testSessionID).Return(&entity.Session{ID: testSessionID}, nil)
	sessionRepo.On("Update", mock.Anything).Return(nil)
	sessionRepo.On("UpdateFields", testSessionID, mock.Anything).Return(nil)
	participantRepo := new(MockParticipantRepo)
	participantRepo.On("UpdateFields", mock.Anything, mock.Anything).Return(nil)
	auditRepo := new(MockAuditRepo)
	auditRepo.On("Append", mock.Anything).Return()
	deps.SessionRepo = sessionRepo
	deps.ParticipantRepo = participantRepo
	deps.AuditRepo = auditRepo

	// Act
	m.runEliminationRound(hot, eliminationQuiz(100))

	// Assert: лучший игрок остался
	size, err := deps.Live.LeaderboardSize(testSessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	best, err := deps.Live.GetParticipant("p-1")
	require.NoError(t, err)
	assert.False(t, best.IsEliminated)
}

func TestEliminationRound_NotDueBySchedule(t *testing.T) {
	// Arrange: EVERY_N c N=3, после первого вопроса раунд не положен
	m, deps, _ := newTestManager(t)
	hot := seedEliminationSession(t, deps, 10)
	quiz := &entity.Quiz{
		ID:       "quiz-1",
		QuizType: entity.QuizTypeElimination,
		EliminationSettings: &entity.EliminationSettings{
			Percentage: 20,
			Frequency:  entity.EliminationEveryN,
			NPerElim:   3,
		},
	}

	// Act
	m.runEliminationRound(hot, quiz)

	// Assert
	size, err := deps.Live.LeaderboardSize(testSessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
}

func TestEliminationRound_EliminatedUnicastPayload(t *testing.T) {
	// Arrange
	m, deps, rec := newRecordingManager(t)
	hot := seedEliminationSession(t, deps, 10)

	sessionRepo := new(MockSessionRepo)
	sessionRepo.On("GetByID", testSessionID).Return(&entity.Session{ID: testSessionID}, nil)
	sessionRepo.On("Update", mock.AnythingOfType("*entity.Session")).Return(nil)
	sessionRepo.On("UpdateFields", testSessionID, mock.Anything).Return(nil)
	participantRepo := new(MockParticipantRepo)
	participantRepo.On("UpdateFields", mock.Anything, mock.Anything).Return(nil)
	auditRepo := new(MockAuditRepo)
	auditRepo.On("Append", mock.Anything).Return()
	deps.SessionRepo = sessionRepo
	deps.ParticipantRepo = participantRepo
	deps.AuditRepo = auditRepo

	// Act
	m.runEliminationRound(hot, eliminationQuiz(20))

	// Assert: юникаст eliminated несет идентификатор, ранг и счет выбывшего
	ev := rec.lastEvent(websocket.ParticipantChannel("p-0"), websocket.EventEliminated)
	require.NotNil(t, ev, "Выбывший получает юникаст eliminated")
	assert.Equal(t, "p-0", ev["participantId"])
	assert.Contains(t, ev, "finalRank")
	assert.Contains(t, ev, "finalScore")
	assert.Contains(t, ev, "message")
}
