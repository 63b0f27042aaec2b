package postgres

import (
	"log"

	"gorm.io/gorm"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
)

// AuditRepo реализует repository.AuditRepository
type AuditRepo struct {
	db *gorm.DB
}

// NewAuditRepo создает новый репозиторий журнала аудита
func NewAuditRepo(db *gorm.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Append добавляет запись в журнал аудита. Ошибка записи логируется и
// глотается: потеря аудита допустима, падение игрового пути - нет.
func (r *AuditRepo) Append(entry *entity.AuditLog) {
	if err := r.db.Create(entry).Error; err != nil {
		log.Printf("[AuditRepo] WARNING: не удалось записать аудит-событие %s для сессии %s: %v",
			entry.EventType, entry.SessionID, err)
	}
}
