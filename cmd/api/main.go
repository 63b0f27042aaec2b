package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/livequiz-api/internal/config"
	"github.com/yourusername/livequiz-api/internal/handler"
	pgRepo "github.com/yourusername/livequiz-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/livequiz-api/internal/repository/redis"
	"github.com/yourusername/livequiz-api/internal/service/sessionmanager"
	ws "github.com/yourusername/livequiz-api/internal/websocket"
	"github.com/yourusername/livequiz-api/pkg/auth"
	"github.com/yourusername/livequiz-api/pkg/database"
)

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	log.Printf("Загрузка конфигурации из %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к PostgreSQL
	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		os.Exit(1)
	}

	// Применяем миграции
	if err := database.MigrateDB(db); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к Redis с использованием унифицированной конфигурации
	redisClient, err := database.NewUniversalRedisClient(cfg.Redis)
	if err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	log.Println("Successfully connected to Redis")

	// Инициализируем репозитории persistent store
	quizRepo := pgRepo.NewQuizRepo(db)
	sessionRepo := pgRepo.NewSessionRepo(db)
	participantRepo := pgRepo.NewParticipantRepo(db)
	answerRepo := pgRepo.NewAnswerRepo(db)
	auditRepo := pgRepo.NewAuditRepo(db)

	// Инициализируем fast store
	cacheRepo, err := redisRepo.NewCacheRepo(redisClient)
	if err != nil {
		log.Printf("Failed to initialize CacheRepo: %v", err)
		os.Exit(1)
	}
	liveStore, err := redisRepo.NewLiveStore(redisClient)
	if err != nil {
		log.Printf("Failed to initialize LiveStore: %v", err)
		os.Exit(1)
	}

	// Pub/Sub: единая шина событий между конвейером приема, скорингом и
	// fanout-слоем. При недоступности Redis шина вырождается в NoOp - сервер
	// поднимется, но рассылка работать не будет.
	var pubSubProvider ws.PubSubProvider
	redisProvider, err := ws.NewRedisPubSub(redisClient)
	if err != nil {
		log.Printf("Ошибка при создании Redis PubSub провайдера: %v. Рассылка будет неактивна.", err)
		pubSubProvider = &ws.NoOpPubSub{}
	} else {
		log.Println("Redis PubSub провайдер успешно инициализирован")
		pubSubProvider = redisProvider
	}

	// WebSocket-хаб и fanout-слой
	wsHub := ws.NewHub()
	go wsHub.Run()

	fanout := ws.NewFanout(pubSubProvider, wsHub)
	wsManager := ws.NewManager(wsHub)

	// Ядро оркестрации сессий
	gameConfig := &sessionmanager.Config{
		ParticipantTTL:  time.Duration(cfg.Game.ParticipantTTLMin) * time.Minute,
		LeaderboardTopN: cfg.Game.LeaderboardTopN,
		MetricsInterval: time.Duration(cfg.Game.MetricsIntervalSec) * time.Second,
		JoinCodeTTL:     time.Duration(cfg.Game.JoinCodeTTLHrs) * time.Hour,
		SubmitGraceMs:   cfg.Game.SubmitGraceMs,
	}
	deps := &sessionmanager.Dependencies{
		QuizRepo:        quizRepo,
		SessionRepo:     sessionRepo,
		ParticipantRepo: participantRepo,
		AnswerRepo:      answerRepo,
		AuditRepo:       auditRepo,
		Live:            liveStore,
		Cache:           cacheRepo,
		Fanout:          fanout,
		Hub:             wsHub,
	}
	sessions := sessionmanager.NewManager(gameConfig, deps)

	jwtService, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpirationHrs)
	if err != nil {
		log.Printf("Failed to initialize JWTService: %v", err)
		os.Exit(1)
	}

	allowedOrigins := cfg.Server.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}

	wsHandler := handler.NewWSHandler(wsHub, wsManager, fanout, sessions, deps, jwtService, allowedOrigins)

	isProduction := gin.Mode() == gin.ReleaseMode

	// Инициализируем роутер Gin
	router := gin.Default()

	// Настройка доверенных прокси для корректной работы c.ClientIP()
	// (IP участника попадает в бан-лист, подмена недопустима)
	if isProduction {
		if err := router.SetTrustedProxies(nil); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	} else {
		if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	}

	// Настройка CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": wsHub.ClientCount(),
		})
	})

	// WebSocket маршрут: единственная игровая поверхность
	router.GET("/ws", wsHandler.HandleConnection)

	// Настраиваем HTTP сервер с тайм-аутами для защиты от slow client attacks
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %s", cfg.Server.Port)

	// Ждем SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Порядок остановки: сначала ядро (таймеры, скоринг, метрики), затем
	// fanout и хаб, затем шина и хранилища
	sessions.Shutdown()
	fanout.Close()
	wsHub.Stop()

	if err := pubSubProvider.Close(); err != nil {
		log.Printf("Error closing PubSub provider: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Printf("Error closing Redis client: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	log.Println("Server exited properly")
}
