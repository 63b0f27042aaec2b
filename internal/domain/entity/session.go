package entity

import (
	"time"
)

// Состояния сессии. Единственные легальные переходы описаны в
// sessionmanager.StateMachine.
const (
	SessionStateLobby          = "LOBBY"
	SessionStateActiveQuestion = "ACTIVE_QUESTION"
	SessionStateReveal         = "REVEAL"
	SessionStateEnded          = "ENDED"
)

// Session представляет один живой запуск викторины (строка в persistent store).
// Во время игры авторитетным является снимок в fast store; строка БД -
// durable-реплика, зеркалируемая на каждом переходе.
type Session struct {
	ID                       string      `gorm:"type:uuid;primaryKey" json:"id"`
	QuizID                   string      `gorm:"type:uuid;not null;index" json:"quiz_id"`
	JoinCode                 string      `gorm:"size:6;not null;uniqueIndex" json:"join_code"`
	HostID                   string      `gorm:"type:uuid;not null" json:"host_id"`
	State                    string      `gorm:"size:20;not null;default:'LOBBY';index" json:"state"`
	CurrentQuestionIndex     int         `gorm:"not null;default:0" json:"current_question_index"`
	CurrentQuestionID        string      `gorm:"type:uuid" json:"current_question_id,omitempty"`
	CurrentQuestionStartTime int64       `gorm:"not null;default:0" json:"current_question_start_time"`
	TimerEndTime             int64       `gorm:"not null;default:0" json:"timer_end_time"`
	ParticipantCount         int         `gorm:"not null;default:0" json:"participant_count"`
	EliminatedCount          int         `gorm:"not null;default:0" json:"eliminated_count"`
	ActiveParticipants       StringArray `gorm:"type:jsonb;not null;default:'[]'" json:"active_participants"`
	EliminatedParticipants   StringArray `gorm:"type:jsonb;not null;default:'[]'" json:"eliminated_participants"`
	VoidedQuestions          StringArray `gorm:"type:jsonb;not null;default:'[]'" json:"voided_questions"`
	BannedIPs                StringArray `gorm:"type:jsonb;not null;default:'[]'" json:"banned_ips"`
	AllowLateJoiners         bool        `gorm:"not null;default:true" json:"allow_late_joiners"`
	CreatedAt                time.Time   `json:"created_at"`
	UpdatedAt                time.Time   `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Session) TableName() string {
	return "sessions"
}

// IsEnded проверяет, завершена ли сессия
func (s *Session) IsEnded() bool {
	return s.State == SessionStateEnded
}

// IsQuestionVoided проверяет, аннулирован ли вопрос
func (s *Session) IsQuestionVoided(questionID string) bool {
	return s.VoidedQuestions.Contains(questionID)
}
