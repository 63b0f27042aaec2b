package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// Типы вопросов
const (
	QuestionTypeMultipleChoice = "MULTIPLE_CHOICE"
	QuestionTypeMultiSelect    = "MULTI_SELECT"
	QuestionTypeTrueFalse      = "TRUE_FALSE"
	QuestionTypeScale1To10     = "SCALE_1_10"
	QuestionTypeNumberInput    = "NUMBER_INPUT"
	QuestionTypeOpenEnded      = "OPEN_ENDED"
)

// Границы лимита времени на вопрос в секундах
const (
	MinTimeLimitSec = 5
	MaxTimeLimitSec = 120
)

// Option представляет вариант ответа. Поле IsCorrect НИКОГДА не должно
// попадать в payload, отправляемый клиентам во время активного вопроса.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	ImageURL  string `json:"image_url,omitempty"`
	IsCorrect bool   `json:"is_correct"`
}

// OptionArray - JSONB массив вариантов ответа
type OptionArray []Option

// Scan реализует интерфейс sql.Scanner для OptionArray
func (o *OptionArray) Scan(value interface{}) error {
	if value == nil {
		*o = OptionArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}
	if len(bytes) == 0 {
		*o = OptionArray{}
		return nil
	}
	return json.Unmarshal(bytes, o)
}

// Value реализует интерфейс driver.Valuer для OptionArray
func (o OptionArray) Value() (driver.Value, error) {
	if len(o) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(o)
}

// ScoringSettings содержит настройки подсчета очков вопроса
type ScoringSettings struct {
	BasePoints              int      `json:"base_points"`
	SpeedBonusMultiplier    float64  `json:"speed_bonus_multiplier"`
	PartialCreditEnabled    bool     `json:"partial_credit_enabled"`
	NegativeMarkingOverride *float64 `json:"negative_marking_override,omitempty"`
}

// Scan/Value для хранения настроек подсчета в JSONB
func (s *ScoringSettings) Scan(value interface{}) error { return scanJSONB(value, s) }
func (s ScoringSettings) Value() (driver.Value, error)  { return json.Marshal(s) }

// Question представляет вопрос в викторине
type Question struct {
	ID             string          `gorm:"type:uuid;primaryKey" json:"id"`
	QuizID         string          `gorm:"type:uuid;not null;index" json:"quiz_id"`
	OrderIndex     int             `gorm:"not null;default:0" json:"order_index"`
	Text           string          `gorm:"size:1000;not null" json:"text"`
	Type           string          `gorm:"size:20;not null;default:'MULTIPLE_CHOICE'" json:"type"`
	ImageURL       string          `gorm:"size:500" json:"image_url,omitempty"`
	Options        OptionArray     `gorm:"type:jsonb;not null" json:"options"`
	TimeLimitSec   int             `gorm:"not null;default:30" json:"time_limit_sec"`
	Scoring        ScoringSettings `gorm:"type:jsonb;not null" json:"scoring"`
	ShuffleOptions bool            `gorm:"not null;default:false" json:"shuffle_options"`
	Explanation    string          `gorm:"size:2000" json:"explanation,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Question) TableName() string {
	return "questions"
}

// CorrectOptionIDs возвращает ID правильных вариантов
func (q *Question) CorrectOptionIDs() []string {
	var ids []string
	for _, opt := range q.Options {
		if opt.IsCorrect {
			ids = append(ids, opt.ID)
		}
	}
	return ids
}

// HasOption проверяет, принадлежит ли вариант вопросу
func (q *Question) HasOption(optionID string) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// CorrectnessFraction вычисляет долю правильности ответа в [0, 1].
//
// MULTIPLE_CHOICE / TRUE_FALSE: ровно один выбранный вариант, и он правильный.
// MULTI_SELECT: множество выбранных равно множеству правильных; при
// включённом partial credit доля = max(0, (|sel∩correct| - |sel\correct|) / |correct|).
// NUMBER_INPUT / SCALE_1_10: answerNumber равен числовому тексту
// единственного правильного варианта.
// OPEN_ENDED: всегда 0 (ручная проверка вне ядра).
func (q *Question) CorrectnessFraction(selectedOptionIDs []string, answerNumber *float64) float64 {
	switch q.Type {
	case QuestionTypeMultipleChoice, QuestionTypeTrueFalse:
		if len(selectedOptionIDs) != 1 {
			return 0
		}
		for _, opt := range q.Options {
			if opt.ID == selectedOptionIDs[0] && opt.IsCorrect {
				return 1
			}
		}
		return 0

	case QuestionTypeMultiSelect:
		correct := make(map[string]bool)
		for _, opt := range q.Options {
			if opt.IsCorrect {
				correct[opt.ID] = true
			}
		}
		if len(correct) == 0 {
			return 0
		}
		hits, misses := 0, 0
		seen := make(map[string]bool)
		for _, id := range selectedOptionIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			if correct[id] {
				hits++
			} else {
				misses++
			}
		}
		if q.Scoring.PartialCreditEnabled {
			frac := float64(hits-misses) / float64(len(correct))
			if frac < 0 {
				return 0
			}
			return frac
		}
		if hits == len(correct) && misses == 0 && hits == len(seen) {
			return 1
		}
		return 0

	case QuestionTypeNumberInput, QuestionTypeScale1To10:
		if answerNumber == nil {
			return 0
		}
		for _, opt := range q.Options {
			if !opt.IsCorrect {
				continue
			}
			expected, err := strconv.ParseFloat(opt.Text, 64)
			if err != nil {
				return 0
			}
			if expected == *answerNumber {
				return 1
			}
			return 0
		}
		return 0

	case QuestionTypeOpenEnded:
		return 0
	}
	return 0
}

// ValidTimeLimit проверяет, что лимит времени в допустимых границах
func ValidTimeLimit(seconds int) bool {
	return seconds >= MinTimeLimitSec && seconds <= MaxTimeLimitSec
}
