package repository

import (
	"time"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
)

// LeaderboardRow - одна позиция в отсортированном множестве лидерборда.
// Score - композитный: totalScore - totalTimeMs/1e9, так что доминирует
// убывание очков, а равенство очков разрешается возрастанием времени.
type LeaderboardRow struct {
	ParticipantID string
	Score         float64
}

// QuestionStats - агрегаты по одному вопросу для фазы показа ответов
type QuestionStats struct {
	TotalAnswers      int64 `json:"total_answers"`
	CorrectAnswers    int64 `json:"correct_answers"`
	SumResponseTimeMs int64 `json:"sum_response_time_ms"`
}

// AverageResponseTimeMs возвращает среднее арифметическое времени ответа,
// 0 если ответов не было.
func (s *QuestionStats) AverageResponseTimeMs() int64 {
	if s.TotalAnswers == 0 {
		return 0
	}
	return s.SumResponseTimeMs / s.TotalAnswers
}

// LiveStore определяет горячее состояние сессии в fast store.
// Раскладка ключей:
//
//	session:{sid}:state        hash   снимок сессии
//	session:{sid}:leaderboard  zset   композитный счет
//	session:{sid}:answers:buffer list предварительные ответы (JSON)
//	session:{sid}:banned_ips   set
//	session:{sid}:voided       set    ID аннулированных вопросов
//	session:{sid}:question:{qid}:stats hash агрегаты вопроса
//	participant:{pid}:session  hash   горячая запись участника (TTL 5 мин)
//	ratelimit:answer:{pid}:{qid} string маркер дедупликации
//	joincode:{code}            string -> sessionID
//
// Во время игры fast store авторитетен; persistent store - durable-реплика.
type LiveStore interface {
	// Снимок сессии
	SaveSession(hot *entity.SessionHot) error
	GetSession(sessionID string) (*entity.SessionHot, error)
	UpdateSessionFields(sessionID string, fields map[string]interface{}) error
	DeleteSession(sessionID string) error

	// Код подключения
	SetJoinCode(code string, sessionID string, ttl time.Duration) error
	GetSessionIDByJoinCode(code string) (string, error)

	// Горячие записи участников
	SaveParticipant(hot *entity.ParticipantHot, ttl time.Duration) error
	GetParticipant(participantID string) (*entity.ParticipantHot, error)
	UpdateParticipantFields(participantID string, fields map[string]interface{}, ttl time.Duration) error
	TouchParticipant(participantID string, ttl time.Duration) error

	// Лидерборд
	UpdateLeaderboard(sessionID, participantID string, compositeScore float64) error
	RemoveFromLeaderboard(sessionID, participantID string) error
	LeaderboardTop(sessionID string, n int64) ([]LeaderboardRow, error)
	LeaderboardBottom(sessionID string, n int64) ([]LeaderboardRow, error)
	LeaderboardAll(sessionID string) ([]LeaderboardRow, error)
	// LeaderboardRank возвращает позицию участника (0 = первое место).
	// ErrNotFound, если участника нет в лидерборде.
	LeaderboardRank(sessionID, participantID string) (int64, error)
	LeaderboardSize(sessionID string) (int64, error)

	// Буфер ответов (append-only до сверки в конце сессии)
	AppendAnswer(sessionID string, answer *entity.Answer) error
	AnswersBuffer(sessionID string) ([]entity.Answer, error)

	// MarkAnswered атомарно ставит маркер "участник ответил на вопрос".
	// Возвращает false, если маркер уже стоял (дубликат).
	MarkAnswered(participantID, questionID string, ttl time.Duration) (bool, error)
	// HasAnswered проверяет маркер, не ставя его (восстановление)
	HasAnswered(participantID, questionID string) (bool, error)

	// Аннулированные вопросы. Маркер ставится под мьютексом сессии ДО
	// пересчета очков: рабочий элемент скоринга, доставленный после
	// аннулирования, не должен ничего начислить.
	MarkQuestionVoided(sessionID, questionID string) error
	IsQuestionVoided(sessionID, questionID string) (bool, error)

	// Агрегаты вопроса для reveal
	RecordAnswerStats(sessionID, questionID string, correct bool, responseTimeMs int64) error
	GetQuestionStats(sessionID, questionID string) (*QuestionStats, error)

	// Бан по IP
	AddBannedIP(sessionID, ip string) error
	IsIPBanned(sessionID, ip string) (bool, error)
}
