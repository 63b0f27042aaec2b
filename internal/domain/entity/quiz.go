package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Типы викторин
const (
	QuizTypeRegular     = "REGULAR"
	QuizTypeElimination = "ELIMINATION"
	QuizTypeFFI         = "FFI"
)

// Частоты выбывания для ELIMINATION викторин
const (
	EliminationEveryQuestion = "EVERY_QUESTION"
	EliminationEveryN        = "EVERY_N"
)

// EliminationSettings содержит настройки выбывания (только для ELIMINATION)
type EliminationSettings struct {
	Percentage int    `json:"percentage"`
	Frequency  string `json:"frequency"`
	NPerElim   int    `json:"n_per_elim,omitempty"`
}

// FFISettings содержит настройки FFI (fastest finger first) викторин
type FFISettings struct {
	WinnersPerQuestion int `json:"winners_per_question"`
}

// ExamSettings содержит настройки экзаменационного режима
type ExamSettings struct {
	NegativeMarkingEnabled bool    `json:"negative_marking_enabled"`
	NegativeMarkingPct     float64 `json:"negative_marking_pct"`
	FocusMonitoringEnabled bool    `json:"focus_monitoring_enabled"`
	SkipRevealPhase        bool    `json:"skip_reveal_phase"`
	AutoAdvance            bool    `json:"auto_advance"`
}

// Scan/Value для хранения настроек в JSONB

func (s *EliminationSettings) Scan(value interface{}) error { return scanJSONB(value, s) }
func (s EliminationSettings) Value() (driver.Value, error)  { return json.Marshal(s) }

func (s *FFISettings) Scan(value interface{}) error { return scanJSONB(value, s) }
func (s FFISettings) Value() (driver.Value, error)  { return json.Marshal(s) }

func (s *ExamSettings) Scan(value interface{}) error { return scanJSONB(value, s) }
func (s ExamSettings) Value() (driver.Value, error)  { return json.Marshal(s) }

func scanJSONB(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}
	if len(bytes) == 0 {
		return nil
	}
	return json.Unmarshal(bytes, dest)
}

// Quiz представляет викторину. После того, как на викторину ссылается
// сессия, её содержимое неизменяемо для ядра (read-only).
type Quiz struct {
	ID                  string               `gorm:"type:uuid;primaryKey" json:"id"`
	Title               string               `gorm:"size:200;not null" json:"title"`
	Description         string               `gorm:"size:1000;not null;default:''" json:"description"`
	QuizType            string               `gorm:"size:20;not null;default:'REGULAR';index" json:"quiz_type"`
	EliminationSettings *EliminationSettings `gorm:"type:jsonb" json:"elimination_settings,omitempty"`
	FFISettings         *FFISettings         `gorm:"type:jsonb" json:"ffi_settings,omitempty"`
	ExamSettings        *ExamSettings        `gorm:"type:jsonb" json:"exam_settings,omitempty"`
	Questions           []Question           `gorm:"foreignKey:QuizID" json:"questions,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Quiz) TableName() string {
	return "quizzes"
}

// IsElimination проверяет, является ли викторина выбывной
func (q *Quiz) IsElimination() bool {
	return q.QuizType == QuizTypeElimination && q.EliminationSettings != nil
}

// NegativeMarkingPct возвращает действующий процент отрицательной оценки для
// вопроса: пер-вопросный override имеет приоритет над настройкой викторины.
// Второе значение false, если отрицательная оценка не включена.
func (q *Quiz) NegativeMarkingPct(question *Question) (float64, bool) {
	if question != nil && question.Scoring.NegativeMarkingOverride != nil {
		return *question.Scoring.NegativeMarkingOverride, true
	}
	if q.ExamSettings != nil && q.ExamSettings.NegativeMarkingEnabled {
		return q.ExamSettings.NegativeMarkingPct, true
	}
	return 0, false
}

// EliminationDue сообщает, положен ли раунд выбывания после вопроса с
// данным индексом (EVERY_QUESTION - после каждого, EVERY_N - после каждого
// N-го вопроса)
func (q *Quiz) EliminationDue(questionIndex int) bool {
	if !q.IsElimination() {
		return false
	}
	switch q.EliminationSettings.Frequency {
	case EliminationEveryQuestion:
		return true
	case EliminationEveryN:
		n := q.EliminationSettings.NPerElim
		if n <= 0 {
			return false
		}
		return (questionIndex+1)%n == 0
	}
	return false
}

// SkipReveal сообщает, пропускается ли фаза показа ответов (экзамен-режим)
func (q *Quiz) SkipReveal() bool {
	return q.ExamSettings != nil && (q.ExamSettings.SkipRevealPhase || q.ExamSettings.AutoAdvance)
}

// QuestionByID ищет вопрос по его ID. Возвращает nil, если не найден.
func (q *Quiz) QuestionByID(questionID string) *Question {
	for i := range q.Questions {
		if q.Questions[i].ID == questionID {
			return &q.Questions[i]
		}
	}
	return nil
}
