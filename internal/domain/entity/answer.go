package entity

import (
	"time"
)

// Answer представляет принятый ответ участника. Append-only: после принятия
// запись никогда не обновляется (аннулирование вопроса помечает вопрос и
// пересчитывает суммы, но не трогает ответы). Уникальность по
// (session_id, participant_id, question_id) гарантируется и атомарным
// маркером в fast store, и unique constraint в БД.
type Answer struct {
	ID                       string      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID                string      `gorm:"type:uuid;not null;index;uniqueIndex:idx_answers_unique_submission" json:"session_id"`
	ParticipantID            string      `gorm:"type:uuid;not null;index;uniqueIndex:idx_answers_unique_submission" json:"participant_id"`
	QuestionID               string      `gorm:"type:uuid;not null;index;uniqueIndex:idx_answers_unique_submission" json:"question_id"`
	SelectedOptionIDs        StringArray `gorm:"type:jsonb;not null;default:'[]'" json:"selected_option_ids"`
	AnswerText               string      `gorm:"size:2000" json:"answer_text,omitempty"`
	AnswerNumber             *float64    `json:"answer_number,omitempty"`
	SubmittedAt              int64       `gorm:"not null" json:"submitted_at"`
	ResponseTimeMs           int64       `gorm:"not null" json:"response_time_ms"`
	IsCorrect                bool        `gorm:"not null;default:false" json:"is_correct"`
	PointsAwarded            int         `gorm:"not null;default:0" json:"points_awarded"`
	SpeedBonusApplied        int         `gorm:"not null;default:0" json:"speed_bonus_applied"`
	StreakBonusApplied       int         `gorm:"not null;default:0" json:"streak_bonus_applied"`
	PartialCreditApplied     bool        `gorm:"not null;default:false" json:"partial_credit_applied"`
	NegativeDeductionApplied int         `gorm:"not null;default:0" json:"negative_deduction_applied"`
	CreatedAt                time.Time   `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (Answer) TableName() string {
	return "answers"
}
