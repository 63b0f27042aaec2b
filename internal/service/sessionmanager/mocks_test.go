package sessionmanager

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	redisrepo "github.com/yourusername/livequiz-api/internal/repository/redis"
	"github.com/yourusername/livequiz-api/internal/websocket"
)

// ============================================================================
// Моки persistent store для тестов оркестратора
// ============================================================================

// MockQuizRepo реализует repository.QuizRepository
type MockQuizRepo struct {
	mock.Mock
}

func (m *MockQuizRepo) Create(quiz *entity.Quiz) error {
	args := m.Called(quiz)
	return args.Error(0)
}

func (m *MockQuizRepo) GetByID(id string) (*entity.Quiz, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Quiz), args.Error(1)
}

func (m *MockQuizRepo) GetWithQuestions(id string) (*entity.Quiz, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Quiz), args.Error(1)
}

// MockSessionRepo реализует repository.SessionRepository
type MockSessionRepo struct {
	mock.Mock
}

func (m *MockSessionRepo) Create(session *entity.Session) error {
	args := m.Called(session)
	return args.Error(0)
}

func (m *MockSessionRepo) GetByID(id string) (*entity.Session, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Session), args.Error(1)
}

func (m *MockSessionRepo) GetByJoinCode(code string) (*entity.Session, error) {
	args := m.Called(code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Session), args.Error(1)
}

func (m *MockSessionRepo) Update(session *entity.Session) error {
	args := m.Called(session)
	return args.Error(0)
}

func (m *MockSessionRepo) UpdateFields(sessionID string, fields map[string]interface{}) error {
	args := m.Called(sessionID, fields)
	return args.Error(0)
}

// MockParticipantRepo реализует repository.ParticipantRepository
type MockParticipantRepo struct {
	mock.Mock
}

func (m *MockParticipantRepo) Create(participant *entity.Participant) error {
	args := m.Called(participant)
	return args.Error(0)
}

func (m *MockParticipantRepo) GetByID(id string) (*entity.Participant, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Participant), args.Error(1)
}

func (m *MockParticipantRepo) GetBySession(sessionID string) ([]entity.Participant, error) {
	args := m.Called(sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Participant), args.Error(1)
}

func (m *MockParticipantRepo) Update(participant *entity.Participant) error {
	args := m.Called(participant)
	return args.Error(0)
}

func (m *MockParticipantRepo) UpdateFields(participantID string, fields map[string]interface{}) error {
	args := m.Called(participantID, fields)
	return args.Error(0)
}

// MockAnswerRepo реализует repository.AnswerRepository
type MockAnswerRepo struct {
	mock.Mock
}

func (m *MockAnswerRepo) Save(answer *entity.Answer) error {
	args := m.Called(answer)
	return args.Error(0)
}

func (m *MockAnswerRepo) GetByQuestion(sessionID, questionID string) ([]entity.Answer, error) {
	args := m.Called(sessionID, questionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Answer), args.Error(1)
}

func (m *MockAnswerRepo) GetBySession(sessionID string) ([]entity.Answer, error) {
	args := m.Called(sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Answer), args.Error(1)
}

func (m *MockAnswerRepo) GetByParticipant(sessionID, participantID string) ([]entity.Answer, error) {
	args := m.Called(sessionID, participantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Answer), args.Error(1)
}

// MockAuditRepo реализует repository.AuditRepository
type MockAuditRepo struct {
	mock.Mock
}

func (m *MockAuditRepo) Append(entry *entity.AuditLog) {
	m.Called(entry)
}

// ============================================================================
// Перехват публикаций fan-out слоя
// ============================================================================

// recordingPubSub перехватывает публикации fan-out слоя: тесты проверяют
// полезную нагрузку событий без брокера
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

// lastEvent возвращает последнее опубликованное в канал событие с именем
// event (nil - такого события не было)
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

// newRecordingManager - newTestManager с перехватывающим провайдером pub/sub
func newRecordingManager(t *testing.T) (*Manager, *Dependencies, *recordingPubSub) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	live, err := redisrepo.NewLiveStore(client)
	require.NoError(t, err)
	cache, err := redisrepo.NewCacheRepo(client)
	require.NoError(t, err)

	rec := newRecordingPubSub()
	hub := websocket.NewHub()
	deps := &Dependencies{
		Live:   live,
		Cache:  cache,
		Hub:    hub,
		Fanout: websocket.NewFanout(rec, hub),
	}
	return NewManager(DefaultConfig(), deps), deps, rec
}
