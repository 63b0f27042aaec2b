package postgres

import (
	"errors"

	"gorm.io/gorm"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
)

// SessionRepo реализует repository.SessionRepository
type SessionRepo struct {
	db *gorm.DB
}

// NewSessionRepo создает новый репозиторий сессий
func NewSessionRepo(db *gorm.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Create создает новую сессию
func (r *SessionRepo) Create(session *entity.Session) error {
	return r.db.Create(session).Error
}

// GetByID возвращает сессию по ID
func (r *SessionRepo) GetByID(id string) (*entity.Session, error) {
	var session entity.Session
	err := r.db.First(&session, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// GetByJoinCode возвращает сессию по коду подключения
func (r *SessionRepo) GetByJoinCode(code string) (*entity.Session, error) {
	var session entity.Session
	err := r.db.First(&session, "join_code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// Update сохраняет сессию целиком
func (r *SessionRepo) Update(session *entity.Session) error {
	return r.db.Save(session).Error
}

// UpdateFields точечно обновляет колонки сессии без full Save
func (r *SessionRepo) UpdateFields(sessionID string, fields map[string]interface{}) error {
	return r.db.Model(&entity.Session{}).Where("id = ?", sessionID).Updates(fields).Error
}
