package postgres

import (
	"errors"

	"gorm.io/gorm"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
)

// ParticipantRepo реализует repository.ParticipantRepository
type ParticipantRepo struct {
	db *gorm.DB
}

// NewParticipantRepo создает новый репозиторий участников
func NewParticipantRepo(db *gorm.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

// Create создает нового участника
func (r *ParticipantRepo) Create(participant *entity.Participant) error {
	return r.db.Create(participant).Error
}

// GetByID возвращает участника по ID
func (r *ParticipantRepo) GetByID(id string) (*entity.Participant, error) {
	var participant entity.Participant
	err := r.db.First(&participant, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &participant, nil
}

// GetBySession возвращает всех участников сессии
func (r *ParticipantRepo) GetBySession(sessionID string) ([]entity.Participant, error) {
	var participants []entity.Participant
	err := r.db.Where("session_id = ?", sessionID).
		Order("joined_at").
		Find(&participants).Error
	return participants, err
}

// Update сохраняет участника целиком
func (r *ParticipantRepo) Update(participant *entity.Participant) error {
	return r.db.Save(participant).Error
}

// UpdateFields точечно обновляет колонки участника
func (r *ParticipantRepo) UpdateFields(participantID string, fields map[string]interface{}) error {
	return r.db.Model(&entity.Participant{}).Where("id = ?", participantID).Updates(fields).Error
}
