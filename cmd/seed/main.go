package main

import (
	"crypto/rand"
	"flag"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/livequiz-api/internal/config"
	"github.com/yourusername/livequiz-api/internal/domain/entity"
	pgRepo "github.com/yourusername/livequiz-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/livequiz-api/internal/repository/redis"
	"github.com/yourusername/livequiz-api/pkg/auth"
	"github.com/yourusername/livequiz-api/pkg/database"
)

// Без похожих символов (0/O, 1/I/L), чтобы код читался с большого экрана
const joinCodeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

func newJoinCode() string {
	code := make([]byte, 6)
	max := big.NewInt(int64(len(joinCodeCharset)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			log.Fatalf("[Seed] Не удалось сгенерировать код подключения: %v", err)
		}
		code[i] = joinCodeCharset[n.Int64()]
	}
	return string(code)
}

// demoQuiz собирает демонстрационную викторину с вопросами всех основных
// типов, чтобы прогнать ядро по каждой ветке подсчета очков
func demoQuiz() *entity.Quiz {
	quizID := uuid.New().String()
	return &entity.Quiz{
		ID:          quizID,
		Title:       "Demo Quiz",
		Description: "Seeded quiz for local development",
		QuizType:    entity.QuizTypeRegular,
		Questions: []entity.Question{
			{
				ID:         uuid.New().String(),
				QuizID:     quizID,
				OrderIndex: 0,
				Text:       "What is the capital of France?",
				Type:       entity.QuestionTypeMultipleChoice,
				Options: entity.OptionArray{
					{ID: uuid.New().String(), Text: "Paris", IsCorrect: true},
					{ID: uuid.New().String(), Text: "Lyon"},
					{ID: uuid.New().String(), Text: "Marseille"},
					{ID: uuid.New().String(), Text: "Nice"},
				},
				TimeLimitSec:   20,
				ShuffleOptions: true,
				Scoring: entity.ScoringSettings{
					BasePoints:           100,
					SpeedBonusMultiplier: 0.5,
				},
			},
			{
				ID:         uuid.New().String(),
				QuizID:     quizID,
				OrderIndex: 1,
				Text:       "Which of these are prime numbers?",
				Type:       entity.QuestionTypeMultiSelect,
				Options: entity.OptionArray{
					{ID: uuid.New().String(), Text: "2", IsCorrect: true},
					{ID: uuid.New().String(), Text: "7", IsCorrect: true},
					{ID: uuid.New().String(), Text: "9"},
					{ID: uuid.New().String(), Text: "15"},
				},
				TimeLimitSec: 30,
				Scoring: entity.ScoringSettings{
					BasePoints:           150,
					SpeedBonusMultiplier: 0.5,
					PartialCreditEnabled: true,
				},
			},
			{
				ID:         uuid.New().String(),
				QuizID:     quizID,
				OrderIndex: 2,
				Text:       "The Go gopher was designed by Renee French.",
				Type:       entity.QuestionTypeTrueFalse,
				Options: entity.OptionArray{
					{ID: uuid.New().String(), Text: "True", IsCorrect: true},
					{ID: uuid.New().String(), Text: "False"},
				},
				TimeLimitSec: 10,
				Scoring: entity.ScoringSettings{
					BasePoints:           50,
					SpeedBonusMultiplier: 0.5,
				},
			},
			{
				ID:         uuid.New().String(),
				QuizID:     quizID,
				OrderIndex: 3,
				Text:       "How many continents are there?",
				Type:       entity.QuestionTypeNumberInput,
				Options: entity.OptionArray{
					{ID: uuid.New().String(), Text: "7", IsCorrect: true},
				},
				TimeLimitSec: 15,
				Scoring: entity.ScoringSettings{
					BasePoints:           100,
					SpeedBonusMultiplier: 0.5,
				},
			},
		},
	}
}

func main() {
	var (
		configPath = flag.String("config", "config/config.yaml", "путь к файлу конфигурации")
		quizType   = flag.String("type", entity.QuizTypeRegular, "тип викторины: REGULAR, ELIMINATION или FFI")
	)
	flag.Parse()

	if env := os.Getenv("CONFIG_PATH"); env != "" {
		*configPath = env
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[Seed] Ошибка загрузки конфигурации: %v", err)
	}

	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Fatalf("[Seed] Ошибка подключения к PostgreSQL: %v", err)
	}
	if err := database.MigrateDB(db); err != nil {
		log.Fatalf("[Seed] Ошибка применения миграций: %v", err)
	}

	redisClient, err := database.NewUniversalRedisClient(cfg.Redis)
	if err != nil {
		log.Fatalf("[Seed] Ошибка подключения к Redis: %v", err)
	}
	defer redisClient.Close()

	live, err := redisRepo.NewLiveStore(redisClient)
	if err != nil {
		log.Fatalf("[Seed] Ошибка инициализации fast store: %v", err)
	}

	jwtService, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpirationHrs)
	if err != nil {
		log.Fatalf("[Seed] Ошибка инициализации JWT: %v", err)
	}

	quiz := demoQuiz()
	quiz.QuizType = *quizType
	switch *quizType {
	case entity.QuizTypeElimination:
		quiz.EliminationSettings = &entity.EliminationSettings{
			Percentage: 20,
			Frequency:  entity.EliminationEveryQuestion,
		}
	case entity.QuizTypeFFI:
		quiz.FFISettings = &entity.FFISettings{WinnersPerQuestion: 1}
	}

	if err := pgRepo.NewQuizRepo(db).Create(quiz); err != nil {
		log.Fatalf("[Seed] Ошибка создания викторины: %v", err)
	}
	log.Printf("[Seed] Викторина создана: %s (%d вопросов)", quiz.ID, len(quiz.Questions))

	joinCode := newJoinCode()
	session := &entity.Session{
		ID:               uuid.New().String(),
		QuizID:           quiz.ID,
		JoinCode:         joinCode,
		HostID:           uuid.New().String(),
		State:            entity.SessionStateLobby,
		AllowLateJoiners: true,
	}
	if err := pgRepo.NewSessionRepo(db).Create(session); err != nil {
		log.Fatalf("[Seed] Ошибка создания сессии: %v", err)
	}

	// Снимок в fast store + привязка кода: лобби доступно для подключения
	// сразу после сида
	hot := &entity.SessionHot{
		SessionID:        session.ID,
		QuizID:           quiz.ID,
		JoinCode:         joinCode,
		HostID:           session.HostID,
		State:            entity.SessionStateLobby,
		QuizType:         quiz.QuizType,
		TotalQuestions:   len(quiz.Questions),
		AllowLateJoiners: true,
	}
	if quiz.ExamSettings != nil {
		hot.SkipRevealPhase = quiz.ExamSettings.SkipRevealPhase
		hot.AutoAdvance = quiz.ExamSettings.AutoAdvance
	}
	if err := live.SaveSession(hot); err != nil {
		log.Fatalf("[Seed] Ошибка записи сессии в fast store: %v", err)
	}
	joinCodeTTL := time.Duration(cfg.Game.JoinCodeTTLHrs) * time.Hour
	if err := live.SetJoinCode(joinCode, session.ID, joinCodeTTL); err != nil {
		log.Fatalf("[Seed] Ошибка привязки кода подключения: %v", err)
	}

	controllerToken, err := jwtService.GenerateControllerToken(session.ID)
	if err != nil {
		log.Fatalf("[Seed] Ошибка выпуска токена пульта: %v", err)
	}
	bigScreenToken, err := jwtService.GenerateBigScreenToken(session.ID)
	if err != nil {
		log.Fatalf("[Seed] Ошибка выпуска токена большого экрана: %v", err)
	}

	log.Printf("[Seed] Сессия создана: %s", session.ID)
	log.Printf("[Seed] Код подключения: %s (TTL %s)", joinCode, joinCodeTTL)
	log.Printf("[Seed] Токен пульта:\n%s", controllerToken)
	log.Printf("[Seed] Токен большого экрана:\n%s", bigScreenToken)
}
