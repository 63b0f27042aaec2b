package repository

import (
	"github.com/yourusername/livequiz-api/internal/domain/entity"
)

// ParticipantRepository определяет методы для строк участников
type ParticipantRepository interface {
	Create(participant *entity.Participant) error
	GetByID(id string) (*entity.Participant, error)
	GetBySession(sessionID string) ([]entity.Participant, error)
	Update(participant *entity.Participant) error
	UpdateFields(participantID string, fields map[string]interface{}) error
}
