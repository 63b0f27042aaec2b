package sessionmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/livequiz-api/internal/domain/entity"
)

// ============================================================================
// Вспомогательные конструкторы
// ============================================================================

func makeScoringQuestion() *entity.Question {
	return &entity.Question{
		ID:   "q1",
		Type: entity.QuestionTypeMultipleChoice,
		Options: entity.OptionArray{
			{ID: "a", Text: "Правильный", IsCorrect: true},
			{ID: "b", Text: "Неправильный"},
		},
		TimeLimitSec: 30,
		Scoring: entity.ScoringSettings{
			BasePoints:           100,
			SpeedBonusMultiplier: 0.5,
		},
	}
}

func makeScoringItem(selected []string, responseTimeMs int64) *ScoringItem {
	return &ScoringItem{
		AnswerID:          "ans-1",
		SessionID:         "sess-1",
		ParticipantID:     "p-1",
		QuestionID:        "q1",
		SelectedOptionIDs: selected,
		ResponseTimeMs:    responseTimeMs,
	}
}

// ============================================================================
// Тесты для ScoreAnswer
// ============================================================================

func TestScoreAnswer_CorrectWithSpeedBonus(t *testing.T) {
	// Arrange: ответ за 9 секунд из 30 — бонус 100 * 0.5 * (1 - 0.3) = 35
	quiz := &entity.Quiz{QuizType: entity.QuizTypeRegular}
	question := makeScoringQuestion()
	item := makeScoringItem([]string{"a"}, 9000)

	// Act
	result := ScoreAnswer(quiz, question, item, 0)

	// Assert
	assert.True(t, result.IsCorrect)
	assert.False(t, result.PartialCredit)
	assert.Equal(t, 100, result.BasePoints)
	assert.Equal(t, 35, result.SpeedBonus)
	assert.Equal(t, 0, result.StreakBonus)
	assert.Equal(t, 0, result.NegativeDeduction)
	assert.Equal(t, 135, result.PointsAwarded)
}

func TestScoreAnswer_SpeedBonusClampedAtZero(t *testing.T) {
	// Arrange: ответ пришел в грейс-окне после конца отсчета —
	// скоростной бонус не уходит в минус
	quiz := &entity.Quiz{QuizType: entity.QuizTypeRegular}
	question := makeScoringQuestion()
	item := makeScoringItem([]string{"a"}, 30400)

	// Act
	result := ScoreAnswer(quiz, question, item, 0)

	// Assert
	assert.True(t, result.IsCorrect)
	assert.Equal(t, 0, result.SpeedBonus)
	assert.Equal(t, 100, result.PointsAwarded)
}

func TestScoreAnswer_StreakBonus(t *testing.T) {
	// Arrange: серия из 3 правильных до этого — +10% за каждый
	quiz := &entity.Quiz{QuizType: entity.QuizTypeRegular}
	question := makeScoringQuestion()
	item := makeScoringItem([]string{"a"}, 30000) // без скоростного бонуса

	// Act
	result := ScoreAnswer(quiz, question, item, 3)

	// Assert
	assert.Equal(t, 30, result.StreakBonus)
	assert.Equal(t, 130, result.PointsAwarded)
}

func TestScoreAnswer_StreakBonusCappedAtFifty(t *testing.T) {
	// Arrange: серия 7, но бонус не превышает +50%
	quiz := &entity.Quiz{QuizType: entity.QuizTypeRegular}
	question := makeScoringQuestion()
	item := makeScoringItem([]string{"a"}, 30000)

	// Act
	result := ScoreAnswer(quiz, question, item, 7)

	// Assert
	assert.Equal(t, 50, result.StreakBonus)
	assert.Equal(t, 150, result.PointsAwarded)
}

func TestScoreAnswer_IncorrectNoBonuses(t *testing.T) {
	// Arrange: неправильный быстрый ответ не получает ни скоростной,
	// ни серийный бонус
	quiz := &entity.Quiz{QuizType: entity.QuizTypeRegular}
	question := makeScoringQuestion()
	item := makeScoringItem([]string{"b"}, 1000)

	// Act
	result := ScoreAnswer(quiz, question, item, 4)

	// Assert
	assert.False(t, result.IsCorrect)
	assert.Equal(t, 0, result.SpeedBonus)
	assert.Equal(t, 0, result.StreakBonus)
	assert.Equal(t, 0, result.PointsAwarded)
}

func TestScoreAnswer_NegativeMarking(t *testing.T) {
	// Arrange: экзамен-режим с отрицательной оценкой 25%
	quiz := &entity.Quiz{
		QuizType: entity.QuizTypeRegular,
		ExamSettings: &entity.ExamSettings{
			NegativeMarkingEnabled: true,
			NegativeMarkingPct:     25,
		},
	}
	question := makeScoringQuestion()
	item := makeScoringItem([]string{"b"}, 5000)

	// Act
	result := ScoreAnswer(quiz, question, item, 0)

	// Assert
	assert.False(t, result.IsCorrect)
	assert.Equal(t, 25, result.NegativeDeduction)
	assert.Equal(t, -25, result.PointsAwarded)
}

func TestScoreAnswer_NegativeMarkingOverride(t *testing.T) {
	// Arrange: пер-вопросный override 50% важнее настройки викторины
	override := 50.0
	quiz := &entity.Quiz{
		QuizType: entity.QuizTypeRegular,
		ExamSettings: &entity.ExamSettings{
			NegativeMarkingEnabled: true,
			NegativeMarkingPct:     25,
		},
	}
	question := makeScoringQuestion()
	question.Scoring.NegativeMarkingOverride = &override
	item := makeScoringItem([]string{"b"}, 5000)

	// Act
	result := ScoreAnswer(quiz, question, item, 0)

	// Assert
	assert.Equal(t, 50, result.NegativeDeduction)
	assert.Equal(t, -50, result.PointsAwarded)
}

func TestScoreAnswer_PartialCredit(t *testing.T) {
	// Arrange: MULTI_SELECT с partial credit, 1 попадание из 2 правильных
	quiz := &entity.Quiz{QuizType: entity.QuizTypeRegular}
	question := &entity.Question{
		ID:   "q1",
		Type: entity.QuestionTypeMultiSelect,
		Options: entity.OptionArray{
			{ID: "a", IsCorrect: true},
			{ID: "b", IsCorrect: true},
			{ID: "c"},
		},
		TimeLimitSec: 30,
		Scoring: entity.ScoringSettings{
			BasePoints:           100,
			PartialCreditEnabled: true,
		},
	}
	item := makeScoringItem([]string{"a"}, 30000)

	// Act
	result := ScoreAnswer(quiz, question, item, 0)

	// Assert: частично правильный ответ считается правильным
	// (идет в серию и статистику)
	assert.True(t, result.IsCorrect)
	assert.True(t, result.PartialCredit)
	assert.Equal(t, 50, result.BasePoints)
	assert.Equal(t, 50, result.PointsAwarded)
}

func TestScoreAnswer_PartialIncorrectTriggersNegativeMarking(t *testing.T) {
	// Arrange: полностью неверный MULTI_SELECT при включенной
	// отрицательной оценке
	quiz := &entity.Quiz{
		QuizType: entity.QuizTypeRegular,
		ExamSettings: &entity.ExamSettings{
			NegativeMarkingEnabled: true,
			NegativeMarkingPct:     10,
		},
	}
	question := &entity.Question{
		ID:   "q1",
		Type: entity.QuestionTypeMultiSelect,
		Options: entity.OptionArray{
			{ID: "a", IsCorrect: true},
			{ID: "c"},
		},
		TimeLimitSec: 30,
		Scoring: entity.ScoringSettings{
			BasePoints:           100,
			PartialCreditEnabled: true,
		},
	}
	item := makeScoringItem([]string{"c"}, 5000)

	// Act
	result := ScoreAnswer(quiz, question, item, 0)

	// Assert
	assert.False(t, result.IsCorrect)
	assert.Equal(t, -10, result.PointsAwarded)
}

func TestScoreAnswer_Rounding(t *testing.T) {
	// Arrange: 10 секунд из 30 — бонус 100 * 0.5 * (2/3) = 33.33,
	// итог округляется до ближайшего целого
	quiz := &entity.Quiz{QuizType: entity.QuizTypeRegular}
	question := makeScoringQuestion()
	item := makeScoringItem([]string{"a"}, 10000)

	// Act
	result := ScoreAnswer(quiz, question, item, 0)

	// Assert
	require.Equal(t, 33, result.SpeedBonus)
	assert.Equal(t, 133, result.PointsAwarded)
}
