package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	redisrepo "github.com/yourusername/livequiz-api/internal/repository/redis"
	"github.com/yourusername/livequiz-api/internal/service/sessionmanager"
	"github.com/yourusername/livequiz-api/internal/websocket"
	"github.com/yourusername/livequiz-api/pkg/auth"
)

const (
	testSessionID     = "11111111-1111-1111-1111-111111111111"
	testParticipantID = "22222222-2222-2222-2222-222222222222"
	testQuestionID    = "33333333-3333-3333-3333-333333333333"
)

// ============================================================================
// Моки persistent store
// ============================================================================

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) Create(session *entity.Session) error {
	args := m.Called(session)
	return args.Error(0)
}

func (m *mockSessionRepo) GetByID(id string) (*entity.Session, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Session), args.Error(1)
}

func (m *mockSessionRepo) GetByJoinCode(code string) (*entity.Session, error) {
	args := m.Called(code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Session), args.Error(1)
}

func (m *mockSessionRepo) Update(session *entity.Session) error {
	args := m.Called(session)
	return args.Error(0)
}

func (m *mockSessionRepo) UpdateFields(sessionID string, fields map[string]interface{}) error {
	args := m.Called(sessionID, fields)
	return args.Error(0)
}

type mockParticipantRepo struct {
	mock.Mock
}

func (m *mockParticipantRepo) Create(participant *entity.Participant) error {
	args := m.Called(participant)
	return args.Error(0)
}

func (m *mockParticipantRepo) GetByID(id string) (*entity.Participant, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Participant), args.Error(1)
}

func (m *mockParticipantRepo) GetBySession(sessionID string) ([]entity.Participant, error) {
	args := m.Called(sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Participant), args.Error(1)
}

func (m *mockParticipantRepo) Update(participant *entity.Participant) error {
	args := m.Called(participant)
	return args.Error(0)
}

func (m *mockParticipantRepo) UpdateFields(participantID string, fields map[string]interface{}) error {
	args := m.Called(participantID, fields)
	return args.Error(0)
}

// ============================================================================
// Тестовая обвязка
// ============================================================================

// recordingPubSub перехватывает публикации fan-out слоя для проверки
// полезной нагрузки событий
type recordingPubSub struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newRecordingPubSub() *recordingPubSub {
	return &recordingPubSub{messages: make(map[string][][]byte)}
}

func (p *recordingPubSub) Publish(channel string, message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[channel] = append(p.messages[channel], message)
	return nil
}

func (p *recordingPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	msgCh := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(msgCh)
	}()
	return msgCh, nil
}

func (p *recordingPubSub) Close() error { return nil }

func (p *recordingPubSub) lastEvent(channel, event string) map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.messages[channel]) - 1; i >= 0; i-- {
		var decoded map[string]interface{}
		if err := json.Unmarshal(p.messages[channel][i], &decoded); err != nil {
			continue
		}
		if decoded["event"] == event {
			return decoded
		}
	}
	return nil
}

type wsTestEnv struct {
	handler         *WSHandler
	sessions        *sessionmanager.Manager
	deps            *sessionmanager.Dependencies
	wsManager       *websocket.Manager
	hub             *websocket.Hub
	rec             *recordingPubSub
	jwt             *auth.JWTService
	sessionRepo     *mockSessionRepo
	participantRepo *mockParticipantRepo
}

func newWSTestEnv(t *testing.T) *wsTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	live, err := redisrepo.NewLiveStore(client)
	require.NoError(t, err)
	cache, err := redisrepo.NewCacheRepo(client)
	require.NoError(t, err)

	hub := websocket.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	rec := newRecordingPubSub()
	fanout := websocket.NewFanout(rec, hub)

	sessionRepo := new(mockSessionRepo)
	participantRepo := new(mockParticipantRepo)
	deps := &sessionmanager.Dependencies{
		SessionRepo:     sessionRepo,
		ParticipantRepo: participantRepo,
		Live:            live,
		Cache:           cache,
		Hub:             hub,
		Fanout:          fanout,
	}
	sessions := sessionmanager.NewManager(sessionmanager.DefaultConfig(), deps)
	t.Cleanup(sessions.Shutdown)

	wsManager := websocket.NewManager(hub)
	jwtService, err := auth.NewJWTService("test-secret", 1)
	require.NoError(t, err)

	h := NewWSHandler(hub, wsManager, fanout, sessions, deps, jwtService, nil)
	return &wsTestEnv{
		handler:         h,
		sessions:        sessions,
		deps:            deps,
		wsManager:       wsManager,
		hub:             hub,
		rec:             rec,
		jwt:             jwtService,
		sessionRepo:     sessionRepo,
		participantRepo: participantRepo,
	}
}

func seedHotSession(t *testing.T, env *wsTestEnv, state string) {
	t.Helper()
	hot := &entity.SessionHot{
		SessionID:         testSessionID,
		QuizID:            "quiz-1",
		JoinCode:          "KJ7MPQ",
		State:             state,
		TotalQuestions:    2,
		ParticipantCount:  2,
		AllowLateJoiners:  true,
		CurrentQuestionID: testQuestionID,
	}
	require.NoError(t, env.deps.Live.SaveSession(hot))
}

func controllerClient(env *wsTestEnv) *websocket.Client {
	return websocket.NewClient(env.hub, nil, websocket.RoleController, testSessionID, "", "", "127.0.0.1")
}

// ============================================================================
// Операции хоста через конверт сообщения
// ============================================================================

func TestHandleMessage_ResetTimerReadsNewTimeLimit(t *testing.T) {
	// Arrange: активный вопрос с работающим таймером на 30 секунд
	env := newWSTestEnv(t)
	seedHotSession(t, env, entity.SessionStateActiveQuestion)
	require.NoError(t, env.sessions.Timers().Start(testSessionID, testQuestionID, 30, func() {}))

	// Act
	err := env.wsManager.HandleMessage(
		[]byte(`{"type":"reset_timer","data":{"newTimeLimit":45}}`), controllerClient(env))

	// Assert: отсчет перезапущен с лимитом из newTimeLimit
	require.NoError(t, err)
	remaining, ok := env.sessions.Timers().Remaining(testSessionID)
	require.True(t, ok)
	assert.InDelta(t, 45, remaining, 1)
}

func TestHandleMessage_ToggleLateJoinersReadsAllowFlag(t *testing.T) {
	// Arrange
	env := newWSTestEnv(t)
	seedHotSession(t, env, entity.SessionStateLobby)
	env.sessionRepo.On("UpdateFields", testSessionID, mock.Anything).Return(nil)

	// Act
	err := env.wsManager.HandleMessage(
		[]byte(`{"type":"toggle_late_joiners","data":{"allowLateJoiners":false}}`), controllerClient(env))

	// Assert: флаг обновлен в fast store и отзеркален
	require.NoError(t, err)
	hot, err := env.deps.Live.GetSession(testSessionID)
	require.NoError(t, err)
	assert.False(t, hot.AllowLateJoiners)
	env.sessionRepo.AssertCalled(t, "UpdateFields", testSessionID,
		map[string]interface{}{"allow_late_joiners": false})
}

func TestHandleMessage_HostOpRejectsParticipantRole(t *testing.T) {
	// Arrange
	env := newWSTestEnv(t)
	seedHotSession(t, env, entity.SessionStateActiveQuestion)
	require.NoError(t, env.sessions.Timers().Start(testSessionID, testQuestionID, 30, func() {}))
	participant := websocket.NewClient(env.hub, nil, websocket.RoleParticipant,
		testSessionID, testParticipantID, "Игрок", "127.0.0.1")

	// Act
	err := env.wsManager.HandleMessage(
		[]byte(`{"type":"reset_timer","data":{"newTimeLimit":5}}`), participant)

	// Assert: операция отвергнута без разрыва соединения, таймер не тронут
	require.NoError(t, err)
	remaining, ok := env.sessions.Timers().Remaining(testSessionID)
	require.True(t, ok)
	assert.Greater(t, remaining, 25)
}

// ============================================================================
// Payload событий подключения
// ============================================================================

func TestLobbyStateBroadcast_Payload(t *testing.T) {
	// Arrange: в лобби два активных участника и один вышедший
	env := newWSTestEnv(t)
	seedHotSession(t, env, entity.SessionStateLobby)
	env.participantRepo.On("GetBySession", testSessionID).Return([]entity.Participant{
		{ID: testParticipantID, SessionID: testSessionID, Nickname: "Игрок", IsActive: true},
		{ID: "44444444-4444-4444-4444-444444444444", SessionID: testSessionID, Nickname: "Второй", IsActive: true},
		{ID: "55555555-5555-5555-5555-555555555555", SessionID: testSessionID, Nickname: "Ушедший", IsActive: false},
	}, nil)
	client := websocket.NewClient(env.hub, nil, websocket.RoleParticipant,
		testSessionID, testParticipantID, "Игрок", "127.0.0.1")

	// Act
	env.handler.afterParticipantAttached(client)

	// Assert: lobby_state несет код входа и список активных участников
	ev := env.rec.lastEvent(websocket.StateChannel(testSessionID), websocket.EventLobbyState)
	require.NotNil(t, ev, "lobby_state рассылается, пока сессия в LOBBY")
	assert.Equal(t, "KJ7MPQ", ev["joinCode"])

	roster, ok := ev["participants"].([]interface{})
	require.True(t, ok)
	require.Len(t, roster, 2, "Вышедшие не попадают в список лобби")
	first, ok := roster[0].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, first, "participantId")
	assert.Contains(t, first, "nickname")

	// Контроллер уведомлен о подключении
	status := env.rec.lastEvent(websocket.ControllerChannel(testSessionID),
		websocket.EventParticipantStatusChanged)
	require.NotNil(t, status)
	assert.Equal(t, "connected", status["status"])
}

func TestHandleConnection_AuthenticatedPayload(t *testing.T) {
	// Arrange: первый вход участника по токену подключения
	env := newWSTestEnv(t)
	seedHotSession(t, env, entity.SessionStateLobby)
	env.participantRepo.On("GetByID", testParticipantID).Return(nil, errors.New("not found"))
	env.participantRepo.On("Create", mock.AnythingOfType("*entity.Participant")).Return(nil)
	env.participantRepo.On("GetBySession", testSessionID).Return([]entity.Participant{}, nil)
	env.sessionRepo.On("GetByID", testSessionID).Return(nil, errors.New("not found"))

	router := gin.New()
	router.GET("/ws", env.handler.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	token, err := env.jwt.GenerateParticipantToken(testSessionID, testParticipantID, "Игрок")
	require.NoError(t, err)

	// Act
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, resp, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	// Assert: первое адресное сообщение - authenticated со снимком сессии
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var envelope struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &envelope))
		if envelope.Type == websocket.EventAuthenticated {
			break
		}
	}
	assert.Equal(t, true, envelope.Data["success"])
	assert.Equal(t, websocket.RoleParticipant, envelope.Data["role"])
	assert.Equal(t, testSessionID, envelope.Data["sessionId"])
	assert.Equal(t, entity.SessionStateLobby, envelope.Data["currentState"])
	assert.Equal(t, testParticipantID, envelope.Data["participantId"])
}
