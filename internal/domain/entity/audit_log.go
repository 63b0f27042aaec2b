package entity

import (
	"time"
)

// Типы аудит-событий, записываемых ядром
const (
	AuditQuizStarted      = "QUIZ_STARTED"
	AuditQuizEnded        = "QUIZ_ENDED"
	AuditQuestionStarted  = "QUESTION_STARTED"
	AuditQuestionSkipped  = "QUESTION_SKIPPED"
	AuditQuestionVoided   = "QUESTION_VOIDED"
	AuditParticipantKick  = "PARTICIPANT_KICKED"
	AuditParticipantBan   = "PARTICIPANT_BANNED"
	AuditElimination      = "ELIMINATION_ROUND"
	AuditRecoverySuccess  = "RECOVERY_SUCCESS"
	AuditRecoveryFailed   = "RECOVERY_FAILED"
	AuditMirrorFailed     = "MIRROR_FAILED"
	AuditReconcileApplied = "RECONCILE_APPLIED"
)

// AuditLog представляет запись журнала аудита. Запись никогда не должна
// приводить к ошибке в вызывающем коде: потеря аудита допустима, падение
// игрового пути - нет.
type AuditLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	EventType     string    `gorm:"size:40;not null;index" json:"event_type"`
	SessionID     string    `gorm:"type:uuid;not null;index" json:"session_id"`
	ParticipantID string    `gorm:"type:uuid" json:"participant_id,omitempty"`
	QuizID        string    `gorm:"type:uuid" json:"quiz_id,omitempty"`
	UserID        string    `gorm:"type:uuid" json:"user_id,omitempty"`
	Details       JSONMap   `gorm:"type:jsonb" json:"details,omitempty"`
	Error         string    `gorm:"size:1000" json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (AuditLog) TableName() string {
	return "audit_logs"
}
