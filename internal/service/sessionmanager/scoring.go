package sessionmanager

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"sync"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/domain/repository"
	"github.com/yourusername/livequiz-api/internal/websocket"
)

// ScoringWorker - один логический потребитель очереди session:{sid}:scoring
// на живую сессию. Считает очки, финализирует durable-запись ответа,
// обновляет горячую запись участника и лидерборд.
type ScoringWorker struct {
	config *Config
	deps   *Dependencies

	quizLoader func(quizID string) (*entity.Quiz, error)

	cancels sync.Map // sessionID -> context.CancelFunc
}

// NewScoringWorker создает воркер скоринга
func NewScoringWorker(config *Config, deps *Dependencies) *ScoringWorker {
	return &ScoringWorker{config: config, deps: deps}
}

// Start подписывает воркер на очередь скоринга сессии (идемпотентно)
func (w *ScoringWorker) Start(sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())
	if _, loaded := w.cancels.LoadOrStore(sessionID, cancel); loaded {
		cancel()
		return
	}

	items, err := w.deps.Fanout.SubscribeScoring(ctx, sessionID)
	if err != nil {
		log.Printf("[Scoring] Сессия %s: подписка на очередь скоринга не удалась: %v", sessionID, err)
		w.cancels.Delete(sessionID)
		cancel()
		return
	}

	go w.consume(ctx, sessionID, items)
	log.Printf("[Scoring] Воркер сессии %s запущен", sessionID)
}

// Stop останавливает воркер сессии
func (w *ScoringWorker) Stop(sessionID string) {
	if cancel, ok := w.cancels.LoadAndDelete(sessionID); ok {
		cancel.(context.CancelFunc)()
		log.Printf("[Scoring] Воркер сессии %s остановлен", sessionID)
	}
}

// StopAll останавливает все воркеры (graceful shutdown)
func (w *ScoringWorker) StopAll() {
	w.cancels.Range(func(key, _ interface{}) bool {
		w.Stop(key.(string))
		return true
	})
}

func (w *ScoringWorker) consume(ctx context.Context, sessionID string, items <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-items:
			if !ok {
				return
			}
			var item ScoringItem
			if err := json.Unmarshal(raw, &item); err != nil {
				log.Printf("[Scoring] Сессия %s: некорректный рабочий элемент отброшен: %v", sessionID, err)
				continue
			}
			w.scoreItem(&item)
		}
	}
}

// scoreItem обрабатывает один принятый ответ: считает очки и коммитит
// результат в оба store. Ошибка одного элемента не останавливает воркер.
func (w *ScoringWorker) scoreItem(item *ScoringItem) {
	hot, err := w.deps.Live.GetSession(item.SessionID)
	if err != nil {
		log.Printf("[Scoring] Ответ %s: сессия %s недоступна: %v", item.AnswerID, item.SessionID, err)
		return
	}
	quiz, err := w.quizLoader(hot.QuizID)
	if err != nil {
		log.Printf("[Scoring] Ответ %s: викторина %s недоступна: %v", item.AnswerID, hot.QuizID, err)
		return
	}
	question := quiz.QuestionByID(item.QuestionID)
	if question == nil {
		log.Printf("[Scoring] Ответ %s: вопрос %s не принадлежит викторине", item.AnswerID, item.QuestionID)
		return
	}
	p, err := w.deps.Live.GetParticipant(item.ParticipantID)
	if err != nil {
		log.Printf("[Scoring] Ответ %s: участник %s недоступен: %v", item.AnswerID, item.ParticipantID, err)
		return
	}

	// Вопрос мог быть аннулирован между приемом и скорингом: durable-запись
	// сохраняем с нулевым начислением, итоги и серию участника не трогаем
	voided, err := w.deps.Live.IsQuestionVoided(item.SessionID, item.QuestionID)
	if err != nil {
		log.Printf("[Scoring] Ответ %s: проверка аннулирования вопроса %s не удалась: %v",
			item.AnswerID, item.QuestionID, err)
	}
	result := ScoreResult{}
	if !voided {
		result = ScoreAnswer(quiz, question, item, p.StreakCount)
	}

	answer := &entity.Answer{
		ID:                       item.AnswerID,
		SessionID:                item.SessionID,
		ParticipantID:            item.ParticipantID,
		QuestionID:               item.QuestionID,
		SelectedOptionIDs:        item.SelectedOptionIDs,
		AnswerText:               item.AnswerText,
		AnswerNumber:             item.AnswerNumber,
		SubmittedAt:              item.SubmittedAt,
		ResponseTimeMs:           item.ResponseTimeMs,
		IsCorrect:                result.IsCorrect,
		PointsAwarded:            result.PointsAwarded,
		SpeedBonusApplied:        result.SpeedBonus,
		StreakBonusApplied:       result.StreakBonus,
		PartialCreditApplied:     result.PartialCredit,
		NegativeDeductionApplied: result.NegativeDeduction,
	}
	if err := w.deps.AnswerRepo.Save(answer); err != nil {
		if errors.Is(err, repository.ErrDuplicateAnswer) {
			// Повторная доставка рабочего элемента: скоринг идемпотентен
			log.Printf("[Scoring] Ответ %s уже финализирован, пропуск", item.AnswerID)
			return
		}
		log.Printf("[Scoring] Ответ %s: durable-запись не удалась (%v), состояние обновляем по fast store",
			item.AnswerID, err)
	}

	if voided {
		log.Printf("[Scoring] Ответ %s: вопрос %s аннулирован, начисление пропущено",
			item.AnswerID, item.QuestionID)
		return
	}

	// Коммит в горячую запись: fast store авторитетен во время игры
	newTotal := p.TotalScore + result.PointsAwarded
	if newTotal < 0 {
		newTotal = 0
	}
	newStreak := 0
	if result.IsCorrect {
		newStreak = p.StreakCount + 1
	}
	newTotalTime := p.TotalTimeMs + item.ResponseTimeMs

	fields := map[string]interface{}{
		"total_score":         newTotal,
		"total_time_ms":       newTotalTime,
		"streak_count":        newStreak,
		"last_question_score": result.PointsAwarded,
	}
	if err := w.deps.Live.UpdateParticipantFields(item.ParticipantID, fields, w.config.ParticipantTTL); err != nil {
		log.Printf("[Scoring] Ответ %s: горячая запись участника не обновлена: %v", item.AnswerID, err)
		return
	}
	w.deps.ParticipantRepo.UpdateFields(item.ParticipantID, map[string]interface{}{
		"total_score":   newTotal,
		"total_time_ms": newTotalTime,
		"streak_count":  newStreak,
	})

	p.TotalScore = newTotal
	p.TotalTimeMs = newTotalTime
	if err := w.deps.Live.UpdateLeaderboard(item.SessionID, item.ParticipantID, p.CompositeScore()); err != nil {
		log.Printf("[Scoring] Ответ %s: лидерборд не обновлен: %v", item.AnswerID, err)
	}

	if err := w.deps.Live.RecordAnswerStats(item.SessionID, item.QuestionID,
		result.IsCorrect, item.ResponseTimeMs); err != nil {
		log.Printf("[Scoring] Ответ %s: агрегаты вопроса не обновлены: %v", item.AnswerID, err)
	}

	w.PublishLeaderboard(item.SessionID)
}

// ScoreResult - разложение начисления за один ответ
type ScoreResult struct {
	IsCorrect         bool
	PartialCredit     bool
	BasePoints        int
	SpeedBonus        int
	StreakBonus       int
	NegativeDeduction int
	PointsAwarded     int
}

// ScoreAnswer считает очки за ответ по формуле:
//
//	base   = basePoints * correctnessFraction
//	speed  = basePoints * speedBonusMultiplier * (1 - responseTime/limit), >= 0,
//	         только при correctnessFraction > 0
//	streak = basePoints * 10% за каждый предыдущий последовательный правильный
//	         ответ, суммарно не больше +50% (только при правильном ответе)
//	minus  = basePoints * negativeMarkingPct/100 при полностью неверном ответе,
//	         если включена отрицательная оценка
//	pointsAwarded = round(base + speed + streak - minus)
//
// streakBefore - серия участника ДО этого ответа.
func ScoreAnswer(quiz *entity.Quiz, question *entity.Question, item *ScoringItem, streakBefore int) ScoreResult {
	frac := question.CorrectnessFraction(item.SelectedOptionIDs, item.AnswerNumber)
	isCorrect := frac > 0
	basePoints := question.Scoring.BasePoints

	base := float64(basePoints) * frac

	speed := 0.0
	if isCorrect && question.TimeLimitSec > 0 {
		limitMs := float64(question.TimeLimitSec) * 1000
		speed = float64(basePoints) * question.Scoring.SpeedBonusMultiplier * (1 - float64(item.ResponseTimeMs)/limitMs)
		if speed < 0 {
			speed = 0
		}
	}

	streak := 0.0
	if isCorrect && streakBefore > 0 {
		steps := streakBefore
		if steps > 5 {
			steps = 5
		}
		streak = float64(basePoints) * 0.10 * float64(steps)
	}

	minus := 0.0
	if frac == 0 {
		if pct, enabled := quiz.NegativeMarkingPct(question); enabled {
			minus = float64(basePoints) * pct / 100
		}
	}

	return ScoreResult{
		IsCorrect:         isCorrect,
		PartialCredit:     frac > 0 && frac < 1,
		BasePoints:        int(math.Round(base)),
		SpeedBonus:        int(math.Round(speed)),
		StreakBonus:       int(math.Round(streak)),
		NegativeDeduction: int(math.Round(minus)),
		PointsAwarded:     int(math.Round(base + speed + streak - minus)),
	}
}

// AssembleLeaderboard собирает срез лидерборда: n позиций сверху (n <= 0 -
// весь список). Позиции упорядочены по композитному счету: очки по убыванию,
// при равенстве - суммарное время по возрастанию.
func (w *ScoringWorker) AssembleLeaderboard(sessionID string, n int) []map[string]interface{} {
	var rows []repository.LeaderboardRow
	var err error
	if n > 0 {
		rows, err = w.deps.Live.LeaderboardTop(sessionID, int64(n))
	} else {
		rows, err = w.deps.Live.LeaderboardAll(sessionID)
	}
	if err != nil {
		log.Printf("[Scoring] Сессия %s: лидерборд недоступен: %v", sessionID, err)
		return []map[string]interface{}{}
	}

	entries := make([]map[string]interface{}, 0, len(rows))
	for i, row := range rows {
		p, err := w.deps.Live.GetParticipant(row.ParticipantID)
		if err != nil {
			// Горячая запись могла истечь; позиция остается со счетом из zset
			entries = append(entries, map[string]interface{}{
				"rank":          i + 1,
				"participantId": row.ParticipantID,
			})
			continue
		}
		entries = append(entries, map[string]interface{}{
			"rank":              i + 1,
			"participantId":     p.ParticipantID,
			"nickname":          p.Nickname,
			"totalScore":        p.TotalScore,
			"lastQuestionScore": p.LastQuestionScore,
			"streakCount":       p.StreakCount,
			"totalTimeMs":       p.TotalTimeMs,
		})
	}
	return entries
}

// PublishLeaderboard рассылает leaderboard_updated: топ-N игрокам и большому
// экрану, полный список контроллеру
func (w *ScoringWorker) PublishLeaderboard(sessionID string) {
	top := w.AssembleLeaderboard(sessionID, w.config.LeaderboardTopN)
	topPayload := map[string]interface{}{
		"topN":        w.config.LeaderboardTopN,
		"leaderboard": top,
	}
	_ = w.deps.Fanout.PublishToParticipants(sessionID, websocket.EventLeaderboardUpdated, topPayload)
	_ = w.deps.Fanout.PublishToBigScreen(sessionID, websocket.EventLeaderboardUpdated, topPayload)

	full := w.AssembleLeaderboard(sessionID, 0)
	_ = w.deps.Fanout.PublishToController(sessionID, websocket.EventLeaderboardUpdated, map[string]interface{}{
		"topN":        len(full),
		"leaderboard": full,
	})
}
