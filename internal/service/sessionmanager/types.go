package sessionmanager

import (
	"time"

	"github.com/yourusername/livequiz-api/internal/domain/repository"
	"github.com/yourusername/livequiz-api/internal/websocket"
)

// Константы по умолчанию
const (
	// Окно переподключения: TTL горячей записи участника
	DefaultParticipantTTL = 5 * time.Minute

	// Размер топа лидерборда для участников и большого экрана
	DefaultLeaderboardTopN = 10

	// Периодичность system_metrics для контроллера
	DefaultMetricsInterval = 5 * time.Second
)

// Config содержит настройки для всех компонентов SessionManager
type Config struct {
	// TTL горячей записи участника; обновляется при каждой активности.
	// Истечение TTL закрывает окно переподключения.
	ParticipantTTL time.Duration

	// Сколько позиций лидерборда уходит участникам и большому экрану
	// (контроллер всегда получает полный список)
	LeaderboardTopN int

	// Интервал публикации system_metrics
	MetricsInterval time.Duration

	// TTL ключа joincode:{code}
	JoinCodeTTL time.Duration

	// Допуск на сетевую задержку при проверке TIME_EXPIRED, мс
	SubmitGraceMs int64
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		ParticipantTTL:  DefaultParticipantTTL,
		LeaderboardTopN: DefaultLeaderboardTopN,
		MetricsInterval: DefaultMetricsInterval,
		JoinCodeTTL:     24 * time.Hour,
		SubmitGraceMs:   500,
	}
}

// Dependencies содержит зависимости для SessionManager
type Dependencies struct {
	QuizRepo        repository.QuizRepository
	SessionRepo     repository.SessionRepository
	ParticipantRepo repository.ParticipantRepository
	AnswerRepo      repository.AnswerRepository
	AuditRepo       repository.AuditRepository
	Live            repository.LiveStore
	Cache           repository.CacheRepository
	Fanout          *websocket.Fanout
	Hub             *websocket.Hub
	Config          *Config
}

// ScoringItem - рабочий элемент очереди скоринга session:{sid}:scoring.
// Публикуется конвейером приема ответов, потребляется воркером скоринга.
type ScoringItem struct {
	AnswerID          string   `json:"answer_id"`
	SessionID         string   `json:"session_id"`
	ParticipantID     string   `json:"participant_id"`
	QuestionID        string   `json:"question_id"`
	SelectedOptionIDs []string `json:"selected_option_ids"`
	AnswerText        string   `json:"answer_text,omitempty"`
	AnswerNumber      *float64 `json:"answer_number,omitempty"`
	SubmittedAt       int64    `json:"submitted_at"`
	ResponseTimeMs    int64    `json:"response_time_ms"`
}
