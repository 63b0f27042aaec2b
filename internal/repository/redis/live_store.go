package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/domain/repository"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
)

// Ключи fast store. Подстановки: {sid} - ID сессии, {pid} - ID участника,
// {qid} - ID вопроса, {code} - код подключения.
func sessionStateKey(sid string) string       { return "session:" + sid + ":state" }
func leaderboardKey(sid string) string        { return "session:" + sid + ":leaderboard" }
func answersBufferKey(sid string) string      { return "session:" + sid + ":answers:buffer" }
func bannedIPsKey(sid string) string          { return "session:" + sid + ":banned_ips" }
func questionStatsKey(sid, qid string) string { return "session:" + sid + ":question:" + qid + ":stats" }
func participantKey(pid string) string        { return "participant:" + pid + ":session" }
func voidedQuestionsKey(sid string) string    { return "session:" + sid + ":voided" }
func rateLimitKey(pid, qid string) string     { return "ratelimit:answer:" + pid + ":" + qid }
func joinCodeKey(code string) string          { return "joincode:" + code }

// LiveStore реализует repository.LiveStore поверх Redis
type LiveStore struct {
	client redis.UniversalClient
	ctx    context.Context
}

// NewLiveStore создает новое горячее хранилище сессий
func NewLiveStore(client redis.UniversalClient) (*LiveStore, error) {
	if client == nil {
		return nil, fmt.Errorf("Redis client cannot be nil for LiveStore")
	}
	return &LiveStore{
		client: client,
		ctx:    context.Background(),
	}, nil
}

// --- Снимок сессии ---

// SaveSession записывает полный снимок сессии в хеш session:{sid}:state
func (s *LiveStore) SaveSession(hot *entity.SessionHot) error {
	fields := map[string]interface{}{
		"session_id":                  hot.SessionID,
		"quiz_id":                     hot.QuizID,
		"join_code":                   hot.JoinCode,
		"host_id":                     hot.HostID,
		"state":                       hot.State,
		"quiz_type":                   hot.QuizType,
		"total_questions":             hot.TotalQuestions,
		"current_question_index":      hot.CurrentQuestionIndex,
		"current_question_id":         hot.CurrentQuestionID,
		"current_question_start_time": hot.CurrentQuestionStartTime,
		"timer_end_time":              hot.TimerEndTime,
		"participant_count":           hot.ParticipantCount,
		"eliminated_count":            hot.EliminatedCount,
		"allow_late_joiners":          boolField(hot.AllowLateJoiners),
		"skip_reveal_phase":           boolField(hot.SkipRevealPhase),
		"auto_advance":                boolField(hot.AutoAdvance),
	}
	return s.client.HSet(s.ctx, sessionStateKey(hot.SessionID), fields).Err()
}

// GetSession читает снимок сессии. apperrors.ErrNotFound, если хеш пуст.
func (s *LiveStore) GetSession(sessionID string) (*entity.SessionHot, error) {
	raw, err := s.client.HGetAll(s.ctx, sessionStateKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, apperrors.ErrNotFound
	}
	hot := &entity.SessionHot{
		SessionID:                raw["session_id"],
		QuizID:                   raw["quiz_id"],
		JoinCode:                 raw["join_code"],
		HostID:                   raw["host_id"],
		State:                    raw["state"],
		QuizType:                 raw["quiz_type"],
		TotalQuestions:           parseIntField(raw["total_questions"]),
		CurrentQuestionIndex:     parseIntField(raw["current_question_index"]),
		CurrentQuestionID:        raw["current_question_id"],
		CurrentQuestionStartTime: parseInt64Field(raw["current_question_start_time"]),
		TimerEndTime:             parseInt64Field(raw["timer_end_time"]),
		ParticipantCount:         parseIntField(raw["participant_count"]),
		EliminatedCount:          parseIntField(raw["eliminated_count"]),
		AllowLateJoiners:         raw["allow_late_joiners"] == "1",
		SkipRevealPhase:          raw["skip_reveal_phase"] == "1",
		AutoAdvance:              raw["auto_advance"] == "1",
	}
	return hot, nil
}

// UpdateSessionFields точечно обновляет поля снимка (например, только
// timer_end_time при паузе таймера)
func (s *LiveStore) UpdateSessionFields(sessionID string, fields map[string]interface{}) error {
	normalized := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if b, ok := v.(bool); ok {
			normalized[k] = boolField(b)
			continue
		}
		normalized[k] = v
	}
	return s.client.HSet(s.ctx, sessionStateKey(sessionID), normalized).Err()
}

// DeleteSession удаляет снимок сессии и связанные структуры
func (s *LiveStore) DeleteSession(sessionID string) error {
	return s.client.Del(s.ctx,
		sessionStateKey(sessionID),
		leaderboardKey(sessionID),
		answersBufferKey(sessionID),
		bannedIPsKey(sessionID),
		voidedQuestionsKey(sessionID),
	).Err()
}

// --- Код подключения ---

// SetJoinCode привязывает 6-символьный код к сессии
func (s *LiveStore) SetJoinCode(code string, sessionID string, ttl time.Duration) error {
	return s.client.Set(s.ctx, joinCodeKey(code), sessionID, ttl).Err()
}

// GetSessionIDByJoinCode возвращает ID сессии по коду подключения
func (s *LiveStore) GetSessionIDByJoinCode(code string) (string, error) {
	val, err := s.client.Get(s.ctx, joinCodeKey(code)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperrors.ErrNotFound
		}
		return "", err
	}
	return val, nil
}

// --- Горячие записи участников ---

// SaveParticipant записывает горячую запись участника с TTL (окно переподключения)
func (s *LiveStore) SaveParticipant(hot *entity.ParticipantHot, ttl time.Duration) error {
	key := participantKey(hot.ParticipantID)
	fields := map[string]interface{}{
		"participant_id":      hot.ParticipantID,
		"session_id":          hot.SessionID,
		"nickname":            hot.Nickname,
		"ip":                  hot.IP,
		"total_score":         hot.TotalScore,
		"total_time_ms":       hot.TotalTimeMs,
		"streak_count":        hot.StreakCount,
		"last_question_score": hot.LastQuestionScore,
		"is_active":           boolField(hot.IsActive),
		"is_eliminated":       boolField(hot.IsEliminated),
		"is_spectator":        boolField(hot.IsSpectator),
		"is_banned":           boolField(hot.IsBanned),
		"socket_id":           hot.SocketID,
	}
	if err := s.client.HSet(s.ctx, key, fields).Err(); err != nil {
		return err
	}
	return s.client.Expire(s.ctx, key, ttl).Err()
}

// GetParticipant читает горячую запись участника
func (s *LiveStore) GetParticipant(participantID string) (*entity.ParticipantHot, error) {
	raw, err := s.client.HGetAll(s.ctx, participantKey(participantID)).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, apperrors.ErrNotFound
	}
	hot := &entity.ParticipantHot{
		ParticipantID:     raw["participant_id"],
		SessionID:         raw["session_id"],
		Nickname:          raw["nickname"],
		IP:                raw["ip"],
		TotalScore:        parseIntField(raw["total_score"]),
		TotalTimeMs:       parseInt64Field(raw["total_time_ms"]),
		StreakCount:       parseIntField(raw["streak_count"]),
		LastQuestionScore: parseIntField(raw["last_question_score"]),
		IsActive:          raw["is_active"] == "1",
		IsEliminated:      raw["is_eliminated"] == "1",
		IsSpectator:       raw["is_spectator"] == "1",
		IsBanned:          raw["is_banned"] == "1",
		SocketID:          raw["socket_id"],
	}
	return hot, nil
}

// UpdateParticipantFields точечно обновляет поля горячей записи и освежает TTL
func (s *LiveStore) UpdateParticipantFields(participantID string, fields map[string]interface{}, ttl time.Duration) error {
	key := participantKey(participantID)
	normalized := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if b, ok := v.(bool); ok {
			normalized[k] = boolField(b)
			continue
		}
		normalized[k] = v
	}
	if err := s.client.HSet(s.ctx, key, normalized).Err(); err != nil {
		return err
	}
	return s.client.Expire(s.ctx, key, ttl).Err()
}

// TouchParticipant освежает TTL горячей записи при активности участника
func (s *LiveStore) TouchParticipant(participantID string, ttl time.Duration) error {
	return s.client.Expire(s.ctx, participantKey(participantID), ttl).Err()
}

// --- Лидерборд ---

// UpdateLeaderboard обновляет композитный счет участника в zset
func (s *LiveStore) UpdateLeaderboard(sessionID, participantID string, compositeScore float64) error {
	return s.client.ZAdd(s.ctx, leaderboardKey(sessionID), &redis.Z{
		Score:  compositeScore,
		Member: participantID,
	}).Err()
}

// RemoveFromLeaderboard убирает участника из лидерборда (кик/бан)
func (s *LiveStore) RemoveFromLeaderboard(sessionID, participantID string) error {
	return s.client.ZRem(s.ctx, leaderboardKey(sessionID), participantID).Err()
}

// LeaderboardTop возвращает n лучших позиций (счет по убыванию)
func (s *LiveStore) LeaderboardTop(sessionID string, n int64) ([]repository.LeaderboardRow, error) {
	if n <= 0 {
		return nil, nil
	}
	zs, err := s.client.ZRevRangeWithScores(s.ctx, leaderboardKey(sessionID), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	return zToRows(zs), nil
}

// LeaderboardBottom возвращает n худших позиций (счет по возрастанию) -
// кандидаты на выбывание
func (s *LiveStore) LeaderboardBottom(sessionID string, n int64) ([]repository.LeaderboardRow, error) {
	if n <= 0 {
		return nil, nil
	}
	zs, err := s.client.ZRangeWithScores(s.ctx, leaderboardKey(sessionID), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	return zToRows(zs), nil
}

// LeaderboardAll возвращает весь лидерборд по убыванию счета
func (s *LiveStore) LeaderboardAll(sessionID string) ([]repository.LeaderboardRow, error) {
	zs, err := s.client.ZRevRangeWithScores(s.ctx, leaderboardKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return zToRows(zs), nil
}

// LeaderboardRank возвращает позицию участника (0 = первое место)
func (s *LiveStore) LeaderboardRank(sessionID, participantID string) (int64, error) {
	rank, err := s.client.ZRevRank(s.ctx, leaderboardKey(sessionID), participantID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, apperrors.ErrNotFound
		}
		return 0, err
	}
	return rank, nil
}

// LeaderboardSize возвращает количество участников в лидерборде
func (s *LiveStore) LeaderboardSize(sessionID string) (int64, error) {
	return s.client.ZCard(s.ctx, leaderboardKey(sessionID)).Result()
}

// --- Буфер ответов ---

// AppendAnswer добавляет предварительный ответ в список session:{sid}:answers:buffer
func (s *LiveStore) AppendAnswer(sessionID string, answer *entity.Answer) error {
	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("failed to marshal answer for buffer: %w", err)
	}
	return s.client.RPush(s.ctx, answersBufferKey(sessionID), data).Err()
}

// AnswersBuffer возвращает все ответы из буфера сессии
func (s *LiveStore) AnswersBuffer(sessionID string) ([]entity.Answer, error) {
	items, err := s.client.LRange(s.ctx, answersBufferKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	answers := make([]entity.Answer, 0, len(items))
	for _, item := range items {
		var a entity.Answer
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			// Повреждённый элемент буфера пропускаем: сверка не должна
			// падать из-за одной битой записи
			continue
		}
		answers = append(answers, a)
	}
	return answers, nil
}

// --- Дедупликация ответов ---

// MarkAnswered атомарно ставит маркер ratelimit:answer:{pid}:{qid}.
// Возвращает false, если маркер уже стоял - конкурирующая отправка
// проиграла гонку и должна получить ALREADY_SUBMITTED.
func (s *LiveStore) MarkAnswered(participantID, questionID string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(s.ctx, rateLimitKey(participantID, questionID), "1", ttl).Result()
}

// HasAnswered проверяет маркер дедупликации, не трогая его
func (s *LiveStore) HasAnswered(participantID, questionID string) (bool, error) {
	n, err := s.client.Exists(s.ctx, rateLimitKey(participantID, questionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Аннулированные вопросы ---

// MarkQuestionVoided помечает вопрос аннулированным в fast store
func (s *LiveStore) MarkQuestionVoided(sessionID, questionID string) error {
	return s.client.SAdd(s.ctx, voidedQuestionsKey(sessionID), questionID).Err()
}

// IsQuestionVoided проверяет, аннулирован ли вопрос
func (s *LiveStore) IsQuestionVoided(sessionID, questionID string) (bool, error) {
	return s.client.SIsMember(s.ctx, voidedQuestionsKey(sessionID), questionID).Result()
}

// --- Агрегаты вопроса ---

// RecordAnswerStats атомарно накапливает агрегаты вопроса для reveal
func (s *LiveStore) RecordAnswerStats(sessionID, questionID string, correct bool, responseTimeMs int64) error {
	key := questionStatsKey(sessionID, questionID)
	pipe := s.client.Pipeline()
	pipe.HIncrBy(s.ctx, key, "total_answers", 1)
	if correct {
		pipe.HIncrBy(s.ctx, key, "correct_answers", 1)
	}
	pipe.HIncrBy(s.ctx, key, "sum_response_time_ms", responseTimeMs)
	_, err := pipe.Exec(s.ctx)
	return err
}

// GetQuestionStats возвращает агрегаты вопроса (нулевые, если ответов не было)
func (s *LiveStore) GetQuestionStats(sessionID, questionID string) (*repository.QuestionStats, error) {
	raw, err := s.client.HGetAll(s.ctx, questionStatsKey(sessionID, questionID)).Result()
	if err != nil {
		return nil, err
	}
	return &repository.QuestionStats{
		TotalAnswers:      parseInt64Field(raw["total_answers"]),
		CorrectAnswers:    parseInt64Field(raw["correct_answers"]),
		SumResponseTimeMs: parseInt64Field(raw["sum_response_time_ms"]),
	}, nil
}

// --- Бан по IP ---

// AddBannedIP добавляет IP в set забаненных для сессии
func (s *LiveStore) AddBannedIP(sessionID, ip string) error {
	return s.client.SAdd(s.ctx, bannedIPsKey(sessionID), ip).Err()
}

// IsIPBanned проверяет, забанен ли IP в сессии
func (s *LiveStore) IsIPBanned(sessionID, ip string) (bool, error) {
	return s.client.SIsMember(s.ctx, bannedIPsKey(sessionID), ip).Result()
}

// --- Вспомогательные функции ---

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseIntField(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func parseInt64Field(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func zToRows(zs []redis.Z) []repository.LeaderboardRow {
	rows := make([]repository.LeaderboardRow, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		rows = append(rows, repository.LeaderboardRow{ParticipantID: member, Score: z.Score})
	}
	return rows
}
