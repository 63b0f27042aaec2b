package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
)

// newTestLiveStore поднимает LiveStore поверх miniredis
func newTestLiveStore(t *testing.T) (*LiveStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store, err := NewLiveStore(client)
	require.NoError(t, err)
	return store, mr
}

// ============================================================================
// Снимок сессии
// ============================================================================

func TestLiveStore_SessionRoundTrip(t *testing.T) {
	// Arrange
	store, _ := newTestLiveStore(t)
	hot := &entity.SessionHot{
		SessionID:                "sess-1",
		QuizID:                   "quiz-1",
		JoinCode:                 "ABC123",
		HostID:                   "host-1",
		State:                    entity.SessionStateActiveQuestion,
		QuizType:                 entity.QuizTypeElimination,
		TotalQuestions:           10,
		CurrentQuestionIndex:     3,
		CurrentQuestionID:        "q-4",
		CurrentQuestionStartTime: 1700000000000,
		TimerEndTime:             1700000030000,
		ParticipantCount:         25,
		EliminatedCount:          5,
		AllowLateJoiners:         true,
		SkipRevealPhase:          false,
	}

	// Act
	require.NoError(t, store.SaveSession(hot))
	got, err := store.GetSession("sess-1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, hot, got)
}

func TestLiveStore_GetSession_NotFound(t *testing.T) {
	store, _ := newTestLiveStore(t)
	_, err := store.GetSession("missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLiveStore_UpdateSessionFields(t *testing.T) {
	// Arrange
	store, _ := newTestLiveStore(t)
	require.NoError(t, store.SaveSession(&entity.SessionHot{
		SessionID: "sess-1",
		State:     entity.SessionStateLobby,
	}))

	// Act: точечное обновление не перезаписывает остальные поля
	require.NoError(t, store.UpdateSessionFields("sess-1", map[string]interface{}{
		"state":          entity.SessionStateActiveQuestion,
		"timer_end_time": int64(1700000030000),
	}))

	// Assert
	got, err := store.GetSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStateActiveQuestion, got.State)
	assert.Equal(t, int64(1700000030000), got.TimerEndTime)
}

// ============================================================================
// Горячие записи участников и окно переподключения
// ============================================================================

func TestLiveStore_ParticipantRoundTrip(t *testing.T) {
	// Arrange
	store, _ := newTestLiveStore(t)
	hot := &entity.ParticipantHot{
		ParticipantID: "p-1",
		SessionID:     "sess-1",
		Nickname:      "Игрок",
		IP:            "10.0.0.1",
		TotalScore:    135,
		TotalTimeMs:   9000,
		StreakCount:   2,
		IsActive:      true,
		SocketID:      "conn-1",
	}

	// Act
	require.NoError(t, store.SaveParticipant(hot, 5*time.Minute))
	got, err := store.GetParticipant("p-1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, hot, got)
}

func TestLiveStore_ParticipantTTLExpiry(t *testing.T) {
	// Arrange
	store, mr := newTestLiveStore(t)
	require.NoError(t, store.SaveParticipant(&entity.ParticipantHot{
		ParticipantID: "p-1",
		SessionID:     "sess-1",
	}, 5*time.Minute))

	// Act: истечение TTL закрывает окно переподключения
	mr.FastForward(6 * time.Minute)

	// Assert
	_, err := store.GetParticipant("p-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLiveStore_UpdateParticipantFields_RefreshesTTL(t *testing.T) {
	// Arrange
	store, mr := newTestLiveStore(t)
	require.NoError(t, store.SaveParticipant(&entity.ParticipantHot{
		ParticipantID: "p-1",
		SessionID:     "sess-1",
	}, 5*time.Minute))
	mr.FastForward(4 * time.Minute)

	// Act: активность участника освежает TTL
	require.NoError(t, store.UpdateParticipantFields("p-1", map[string]interface{}{
		"total_score": 100,
		"is_active":   true,
	}, 5*time.Minute))
	mr.FastForward(4 * time.Minute)

	// Assert: запись жива и обновлена
	got, err := store.GetParticipant("p-1")
	require.NoError(t, err)
	assert.Equal(t, 100, got.TotalScore)
	assert.True(t, got.IsActive)
}

// ============================================================================
// Дедупликация ответов
// ============================================================================

func TestLiveStore_MarkAnswered_Dedup(t *testing.T) {
	// Arrange
	store, _ := newTestLiveStore(t)

	// Act: первая отправка выигрывает, вторая проигрывает гонку
	first, err := store.MarkAnswered("p-1", "q-1", 5*time.Minute)
	require.NoError(t, err)
	second, err := store.MarkAnswered("p-1", "q-1", 5*time.Minute)
	require.NoError(t, err)

	// Assert
	assert.True(t, first)
	assert.False(t, second)

	// Другой вопрос того же участника — независимый маркер
	other, err := store.MarkAnswered("p-1", "q-2", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, other)
}

func TestLiveStore_HasAnswered(t *testing.T) {
	// Arrange
	store, _ := newTestLiveStore(t)

	// Act & Assert: проверка не трогает маркер
	answered, err := store.HasAnswered("p-1", "q-1")
	require.NoError(t, err)
	assert.False(t, answered)

	_, err = store.MarkAnswered("p-1", "q-1", 5*time.Minute)
	require.NoError(t, err)

	answered, err = store.HasAnswered("p-1", "q-1")
	require.NoError(t, err)
	assert.True(t, answered)

	fresh, err := store.MarkAnswered("p-1", "q-1", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh, "HasAnswered не должен снимать маркер")
}

// ============================================================================
// Лидерборд
// ============================================================================

func TestLiveStore_Leaderboard_CompositeOrdering(t *testing.T) {
	// Arrange: у p2 и p3 одинаковые очки, но p3 отвечал быстрее
	store, _ := newTestLiveStore(t)
	seed := []*entity.ParticipantHot{
		{ParticipantID: "p1", TotalScore: 300, TotalTimeMs: 20000},
		{ParticipantID: "p2", TotalScore: 200, TotalTimeMs: 30000},
		{ParticipantID: "p3", TotalScore: 200, TotalTimeMs: 10000},
		{ParticipantID: "p4", TotalScore: 50, TotalTimeMs: 5000},
	}
	for _, p := range seed {
		require.NoError(t, store.UpdateLeaderboard("sess-1", p.ParticipantID, p.CompositeScore()))
	}

	// Act
	top, err := store.LeaderboardTop("sess-1", 3)
	require.NoError(t, err)

	// Assert: очки доминируют, при равенстве — меньшее время выше
	require.Len(t, top, 3)
	assert.Equal(t, "p1", top[0].ParticipantID)
	assert.Equal(t, "p3", top[1].ParticipantID)
	assert.Equal(t, "p2", top[2].ParticipantID)

	// Низ лидерборда — кандидаты на выбывание
	bottom, err := store.LeaderboardBottom("sess-1", 1)
	require.NoError(t, err)
	require.Len(t, bottom, 1)
	assert.Equal(t, "p4", bottom[0].ParticipantID)

	// Ранг считается от вершины
	rank, err := store.LeaderboardRank("sess-1", "p3")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)

	size, err := store.LeaderboardSize("sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)
}

func TestLiveStore_RemoveFromLeaderboard(t *testing.T) {
	// Arrange
	store, _ := newTestLiveStore(t)
	require.NoError(t, store.UpdateLeaderboard("sess-1", "p1", 100))
	require.NoError(t, store.UpdateLeaderboard("sess-1", "p2", 200))

	// Act: выбывший участник уходит из лидерборда
	require.NoError(t, store.RemoveFromLeaderboard("sess-1", "p1"))

	// Assert
	all, err := store.LeaderboardAll("sess-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "p2", all[0].ParticipantID)

	_, err = store.LeaderboardRank("sess-1", "p1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// ============================================================================
// Буфер ответов
// ============================================================================

func TestLiveStore_AnswersBuffer_PreservesOrder(t *testing.T) {
	// Arrange
	store, _ := newTestLiveStore(t)
	first := &entity.Answer{ID: "a1", SessionID: "sess-1", ParticipantID: "p1", QuestionID: "q1"}
	second := &entity.Answer{ID: "a2", SessionID: "sess-1", ParticipantID: "p2", QuestionID: "q1"}

	// Act
	require.NoError(t, store.AppendAnswer("sess-1", first))
	require.NoError(t, store.AppendAnswer("sess-1", second))

	// Assert: порядок приема сохраняется
	buffered, err := store.AnswersBuffer("sess-1")
	require.NoError(t, err)
	require.Len(t, buffered, 2)
	assert.Equal(t, "a1", buffered[0].ID)
	assert.Equal(t, "a2", buffered[1].ID)
}

// ============================================================================
// Агрегаты вопроса
// ============================================================================

func TestLiveStore_AnswerStats(t *testing.T) {
	// Arrange
	store, _ := newTestLiveStore(t)

	// Act
	require.NoError(t, store.RecordAnswerStats("sess-1", "q1", true, 5000))
	require.NoError(t, store.RecordAnswerStats("sess-1", "q1", false, 10000))
	require.NoError(t, store.RecordAnswerStats("sess-1", "q1", true, 3000))

	// Assert
	stats, err := store.GetQuestionStats("sess-1", "q1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalAnswers)
	assert.Equal(t, int64(2), stats.CorrectAnswers)
	assert.Equal(t, int64(18000), stats.SumResponseTimeMs)
}

func TestLiveStore_AnswerStats_Empty(t *testing.T) {
	store, _ := newTestLiveStore(t)
	stats, err := store.GetQuestionStats("sess-1", "q-none")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalAnswers)
}

// ============================================================================
// Код подключения и бан по IP
// ============================================================================

func TestLiveStore_JoinCode(t *testing.T) {
	// Arrange
	store, mr := newTestLiveStore(t)
	require.NoError(t, store.SetJoinCode("XYZ789", "sess-1", time.Hour))

	// Act & Assert
	sid, err := store.GetSessionIDByJoinCode("XYZ789")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sid)

	_, err = store.GetSessionIDByJoinCode("NOPE00")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// Код истекает по TTL
	mr.FastForward(2 * time.Hour)
	_, err = store.GetSessionIDByJoinCode("XYZ789")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLiveStore_BannedIPs(t *testing.T) {
	// Arrange
	store, _ := newTestLiveStore(t)
	require.NoError(t, store.AddBannedIP("sess-1", "10.0.0.1"))

	// Act & Assert
	banned, err := store.IsIPBanned("sess-1", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, banned)

	banned, err = store.IsIPBanned("sess-1", "10.0.0.2")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestLiveStore_DeleteSession_CleansRelatedKeys(t *testing.T) {
	// Arrange
	store, _ := newTestLiveStore(t)
	require.NoError(t, store.SaveSession(&entity.SessionHot{SessionID: "sess-1"}))
	require.NoError(t, store.UpdateLeaderboard("sess-1", "p1", 100))
	require.NoError(t, store.AppendAnswer("sess-1", &entity.Answer{ID: "a1"}))
	require.NoError(t, store.AddBannedIP("sess-1", "10.0.0.1"))

	// Act
	require.NoError(t, store.DeleteSession("sess-1"))

	// Assert
	_, err := store.GetSession("sess-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	size, err := store.LeaderboardSize("sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}
