package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/domain/repository"
)

// AnswerRepo реализует repository.AnswerRepository
type AnswerRepo struct {
	db *gorm.DB
}

// NewAnswerRepo создает новый репозиторий ответов
func NewAnswerRepo(db *gorm.DB) *AnswerRepo {
	return &AnswerRepo{db: db}
}

// Save сохраняет финализированный ответ. Нарушение unique constraint
// (session, participant, question) превращается в ErrDuplicateAnswer -
// второй уровень защиты после атомарного маркера в fast store.
func (r *AnswerRepo) Save(answer *entity.Answer) error {
	err := r.db.Create(answer).Error
	if err != nil && isUniqueViolation(err) {
		return repository.ErrDuplicateAnswer
	}
	return err
}

// GetByQuestion возвращает все ответы на вопрос в сессии
func (r *AnswerRepo) GetByQuestion(sessionID, questionID string) ([]entity.Answer, error) {
	var answers []entity.Answer
	err := r.db.Where("session_id = ? AND question_id = ?", sessionID, questionID).
		Order("created_at").
		Find(&answers).Error
	return answers, err
}

// GetBySession возвращает все ответы сессии
func (r *AnswerRepo) GetBySession(sessionID string) ([]entity.Answer, error) {
	var answers []entity.Answer
	err := r.db.Where("session_id = ?", sessionID).
		Order("created_at").
		Find(&answers).Error
	return answers, err
}

// GetByParticipant возвращает все ответы участника в сессии
func (r *AnswerRepo) GetByParticipant(sessionID, participantID string) ([]entity.Answer, error) {
	var answers []entity.Answer
	err := r.db.Where("session_id = ? AND participant_id = ?", sessionID, participantID).
		Order("created_at").
		Find(&answers).Error
	return answers, err
}

// isUniqueViolation проверяет ошибку на код 23505 (unique_violation).
// Поддерживаем оба драйвера: lib/pq и pgx.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}
