package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuiz_EliminationDue_EveryQuestion(t *testing.T) {
	// Arrange
	quiz := &Quiz{
		QuizType: QuizTypeElimination,
		EliminationSettings: &EliminationSettings{
			Percentage: 20,
			Frequency:  EliminationEveryQuestion,
		},
	}

	// Act & Assert: раунд выбывания после каждого вопроса
	assert.True(t, quiz.EliminationDue(0))
	assert.True(t, quiz.EliminationDue(1))
	assert.True(t, quiz.EliminationDue(7))
}

func TestQuiz_EliminationDue_EveryN(t *testing.T) {
	// Arrange: выбывание после каждого третьего вопроса
	quiz := &Quiz{
		QuizType: QuizTypeElimination,
		EliminationSettings: &EliminationSettings{
			Percentage: 20,
			Frequency:  EliminationEveryN,
			NPerElim:   3,
		},
	}

	// Act & Assert: индексы 2, 5, 8 (вопросы 3, 6, 9)
	assert.False(t, quiz.EliminationDue(0))
	assert.False(t, quiz.EliminationDue(1))
	assert.True(t, quiz.EliminationDue(2))
	assert.False(t, quiz.EliminationDue(3))
	assert.True(t, quiz.EliminationDue(5))
}

func TestQuiz_EliminationDue_InvalidN(t *testing.T) {
	quiz := &Quiz{
		QuizType: QuizTypeElimination,
		EliminationSettings: &EliminationSettings{
			Frequency: EliminationEveryN,
			NPerElim:  0,
		},
	}
	assert.False(t, quiz.EliminationDue(0), "N <= 0 — выбывание никогда не наступает")
}

func TestQuiz_EliminationDue_NotElimination(t *testing.T) {
	// REGULAR викторина не выбывает никого, даже с настройками
	quiz := &Quiz{
		QuizType: QuizTypeRegular,
		EliminationSettings: &EliminationSettings{
			Frequency: EliminationEveryQuestion,
		},
	}
	assert.False(t, quiz.EliminationDue(0))
}

func TestQuiz_NegativeMarkingPct_QuizLevel(t *testing.T) {
	// Arrange
	quiz := &Quiz{
		ExamSettings: &ExamSettings{
			NegativeMarkingEnabled: true,
			NegativeMarkingPct:     25,
		},
	}
	question := &Question{Scoring: ScoringSettings{BasePoints: 100}}

	// Act
	pct, enabled := quiz.NegativeMarkingPct(question)

	// Assert
	require.True(t, enabled)
	assert.Equal(t, 25.0, pct)
}

func TestQuiz_NegativeMarkingPct_QuestionOverride(t *testing.T) {
	// Arrange: пер-вопросный override важнее настройки викторины
	override := 50.0
	quiz := &Quiz{
		ExamSettings: &ExamSettings{
			NegativeMarkingEnabled: true,
			NegativeMarkingPct:     25,
		},
	}
	question := &Question{
		Scoring: ScoringSettings{BasePoints: 100, NegativeMarkingOverride: &override},
	}

	// Act
	pct, enabled := quiz.NegativeMarkingPct(question)

	// Assert
	require.True(t, enabled)
	assert.Equal(t, 50.0, pct)
}

func TestQuiz_NegativeMarkingPct_Disabled(t *testing.T) {
	quiz := &Quiz{}
	question := &Question{}
	_, enabled := quiz.NegativeMarkingPct(question)
	assert.False(t, enabled, "Без exam-настроек отрицательная оценка выключена")
}

func TestQuiz_SkipReveal(t *testing.T) {
	assert.False(t, (&Quiz{}).SkipReveal())
	assert.True(t, (&Quiz{ExamSettings: &ExamSettings{SkipRevealPhase: true}}).SkipReveal())
	assert.True(t, (&Quiz{ExamSettings: &ExamSettings{AutoAdvance: true}}).SkipReveal())
}

func TestQuiz_QuestionByID(t *testing.T) {
	quiz := &Quiz{
		Questions: []Question{
			{ID: "q1", Text: "Первый"},
			{ID: "q2", Text: "Второй"},
		},
	}
	q := quiz.QuestionByID("q2")
	require.NotNil(t, q)
	assert.Equal(t, "Второй", q.Text)
	assert.Nil(t, quiz.QuestionByID("missing"))
}
