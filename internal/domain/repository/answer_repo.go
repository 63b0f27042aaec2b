package repository

import (
	"errors"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
)

// ErrDuplicateAnswer возвращается при нарушении уникальности
// (session, participant, question) - участник уже отвечал на этот вопрос.
var ErrDuplicateAnswer = errors.New("answer already exists for this participant and question")

// AnswerRepository определяет методы для durable-записей ответов
type AnswerRepository interface {
	// Save сохраняет ответ. При нарушении unique constraint возвращает
	// ErrDuplicateAnswer.
	Save(answer *entity.Answer) error
	GetByQuestion(sessionID, questionID string) ([]entity.Answer, error)
	GetBySession(sessionID string) ([]entity.Answer, error)
	GetByParticipant(sessionID, participantID string) ([]entity.Answer, error)
}
