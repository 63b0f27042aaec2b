package repository

import (
	"github.com/yourusername/livequiz-api/internal/domain/entity"
)

// AuditRepository определяет методы журнала аудита. Append никогда не должен
// роняться в игровой путь: реализация логирует ошибку и возвращает nil.
type AuditRepository interface {
	Append(entry *entity.AuditLog)
}
