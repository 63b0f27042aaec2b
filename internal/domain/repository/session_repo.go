package repository

import (
	"github.com/yourusername/livequiz-api/internal/domain/entity"
)

// SessionRepository определяет методы для durable-реплики сессий
type SessionRepository interface {
	Create(session *entity.Session) error
	GetByID(id string) (*entity.Session, error)
	GetByJoinCode(code string) (*entity.Session, error)
	Update(session *entity.Session) error
	// UpdateFields точечно обновляет колонки без full Save
	UpdateFields(sessionID string, fields map[string]interface{}) error
}
