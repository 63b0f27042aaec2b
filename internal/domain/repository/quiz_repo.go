package repository

import (
	"github.com/yourusername/livequiz-api/internal/domain/entity"
)

// QuizRepository определяет методы чтения викторин. Авторинг (CRUD админа)
// вне ядра; ядру викторина доступна только на чтение.
type QuizRepository interface {
	Create(quiz *entity.Quiz) error
	GetByID(id string) (*entity.Quiz, error)
	// GetWithQuestions возвращает викторину с вопросами, упорядоченными по
	// order_index.
	GetWithQuestions(id string) (*entity.Quiz, error)
}
