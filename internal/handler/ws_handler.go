package handler

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
	"github.com/yourusername/livequiz-api/internal/service/sessionmanager"
	"github.com/yourusername/livequiz-api/internal/websocket"
	"github.com/yourusername/livequiz-api/pkg/auth"
)

// WSHandler обрабатывает WebSocket соединения: аутентификация по токену
// подключения, допуск по роли, регистрация обработчиков сообщений
type WSHandler struct {
	wsHub      *websocket.Hub
	wsManager  *websocket.Manager
	fanout     *websocket.Fanout
	sessions   *sessionmanager.Manager
	deps       *sessionmanager.Dependencies
	jwtService *auth.JWTService
	upgrader   gorillaws.Upgrader
}

// NewWSHandler создает новый обработчик WebSocket
func NewWSHandler(
	wsHub *websocket.Hub,
	wsManager *websocket.Manager,
	fanout *websocket.Fanout,
	sessions *sessionmanager.Manager,
	deps *sessionmanager.Dependencies,
	jwtService *auth.JWTService,
	allowedOrigins []string,
) *WSHandler {
	handler := &WSHandler{
		wsHub:      wsHub,
		wsManager:  wsManager,
		fanout:     fanout,
		sessions:   sessions,
		deps:       deps,
		jwtService: jwtService,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Пустой Origin - не браузерный клиент (мобильное приложение,
				// большой экран в киоске и т.д.)
				if origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				log.Printf("[WSHandler] Отклонен неразрешенный origin: %s", origin)
				return false
			},
			EnableCompression: true,
		},
	}

	handler.registerMessageHandlers()
	handler.wsHub.SetDisconnectHandler(handler.onDisconnect)

	return handler
}

// HandleConnection обрабатывает входящее WebSocket соединение.
// Токен подключения передается в ?token= и определяет роль соединения.
func (h *WSHandler) HandleConnection(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing authentication token parameter"})
		return
	}

	claims, err := h.jwtService.ParseToken(token)
	if err != nil {
		log.Printf("[WSHandler] Недействительный токен подключения: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WSHandler] Ошибка апгрейда соединения: %v", err)
		return
	}

	client := websocket.NewClient(h.wsHub, conn, claims.Role, claims.SessionID,
		claims.ParticipantID, claims.Nickname, c.ClientIP())
	client.StartPumps(h.wsManager.HandleMessage)

	// Допуск после апгрейда: отказ уходит клиенту структурированным
	// auth_error, затем соединение закрывается
	if err := h.admit(client); err != nil {
		h.wsManager.SendEventToClient(client, websocket.EventAuthError, map[string]interface{}{
			"reason":  string(apperrors.KindOf(err)),
			"message": apperrors.MessageOf(err),
		})
		// Даем writePump шанс доставить auth_error до закрытия
		time.AfterFunc(time.Second, func() { h.wsHub.Unregister(client) })
		return
	}

	if err := h.fanout.SubscribeConnection(client); err != nil {
		log.Printf("[WSHandler] Ошибка подписки соединения %s: %v", client.ConnectionID, err)
		h.wsManager.SendErrorToClient(client, "subscribe_error", "Failed to attach session channels")
		h.wsHub.Unregister(client)
		return
	}

	h.sendAuthenticated(client)

	if client.Role == websocket.RoleParticipant {
		h.afterParticipantAttached(client)
	}
}

// admit проверяет допуск соединения в сессию в зависимости от роли
func (h *WSHandler) admit(client *websocket.Client) error {
	hot, err := h.deps.Live.GetSession(client.SessionID)
	if err != nil {
		return apperrors.Reject(apperrors.KindSessionNotFound, "Session not found")
	}
	if hot.State == entity.SessionStateEnded {
		return apperrors.Reject(apperrors.KindSessionEnded, "Session has already ended")
	}

	if client.Role != websocket.RoleParticipant {
		// Контроллер и большой экран допускаются по одному факту живой сессии
		return nil
	}

	if banned, _ := h.deps.Live.IsIPBanned(client.SessionID, client.IP); banned {
		return apperrors.Reject(apperrors.KindParticipantBanned, "This address is banned from the session")
	}

	p, err := h.deps.Live.GetParticipant(client.ParticipantID)
	if err == nil {
		// Горячая запись жива: возвращение в пределах окна переподключения
		if p.IsBanned {
			return apperrors.Reject(apperrors.KindParticipantBanned, "Participant is banned")
		}
		if p.SessionID != client.SessionID {
			return apperrors.Reject(apperrors.KindParticipantNotFound, "Participant is not in this session")
		}
		if err := h.deps.Live.UpdateParticipantFields(client.ParticipantID, map[string]interface{}{
			"socket_id": client.ConnectionID,
		}, h.deps.Config.ParticipantTTL); err != nil {
			return apperrors.Reject(apperrors.KindInternalError, "Failed to attach participant")
		}
		return nil
	}

	// Горячей записи нет: либо первый вход, либо возвращение после долгого
	// отсутствия - поднимаем из persistent store
	if row, err := h.deps.ParticipantRepo.GetByID(client.ParticipantID); err == nil {
		if row.SessionID != client.SessionID {
			return apperrors.Reject(apperrors.KindParticipantNotFound, "Participant is not in this session")
		}
		if row.IsBanned {
			return apperrors.Reject(apperrors.KindParticipantBanned, "Participant is banned")
		}
		hotRecord := &entity.ParticipantHot{
			ParticipantID: row.ID,
			SessionID:     row.SessionID,
			Nickname:      row.Nickname,
			IP:            client.IP,
			TotalScore:    row.TotalScore,
			TotalTimeMs:   row.TotalTimeMs,
			StreakCount:   row.StreakCount,
			IsActive:      row.IsActive,
			IsEliminated:  row.IsEliminated,
			IsSpectator:   row.IsSpectator,
			SocketID:      client.ConnectionID,
		}
		if err := h.deps.Live.SaveParticipant(hotRecord, h.deps.Config.ParticipantTTL); err != nil {
			return apperrors.Reject(apperrors.KindInternalError, "Failed to attach participant")
		}
		return nil
	}

	return h.firstJoin(client, hot)
}

// firstJoin создает участника при первом входе в сессию. Поздние входы
// после старта допускаются только при allowLateJoiners; во время активного
// вопроса участник входит зрителем до границы вопросов.
func (h *WSHandler) firstJoin(client *websocket.Client, hot *entity.SessionHot) error {
	spectator := false
	if hot.State != entity.SessionStateLobby {
		if !hot.AllowLateJoiners {
			return apperrors.Reject(apperrors.KindInvalidState, "Session has already started")
		}
		spectator = hot.State == entity.SessionStateActiveQuestion
	}

	now := time.Now()
	row := &entity.Participant{
		ID:              client.ParticipantID,
		SessionID:       client.SessionID,
		Nickname:        client.Nickname,
		IP:              client.IP,
		IsActive:        true,
		IsSpectator:     spectator,
		SocketID:        client.ConnectionID,
		JoinedAt:        now,
		LastConnectedAt: now,
	}
	if err := h.deps.ParticipantRepo.Create(row); err != nil {
		log.Printf("[WSHandler] Сессия %s: участник %s не создан: %v",
			client.SessionID, client.ParticipantID, err)
		return apperrors.Reject(apperrors.KindInternalError, "Failed to join session")
	}

	hotRecord := &entity.ParticipantHot{
		ParticipantID: row.ID,
		SessionID:     row.SessionID,
		Nickname:      row.Nickname,
		IP:            client.IP,
		IsActive:      true,
		IsSpectator:   spectator,
		SocketID:      client.ConnectionID,
	}
	if err := h.deps.Live.SaveParticipant(hotRecord, h.deps.Config.ParticipantTTL); err != nil {
		return apperrors.Reject(apperrors.KindInternalError, "Failed to join session")
	}

	// Нулевой счет сразу попадает в лидерборд: участник виден в списке
	if err := h.deps.Live.UpdateLeaderboard(client.SessionID, row.ID, hotRecord.CompositeScore()); err != nil {
		log.Printf("[WSHandler] Сессия %s: участник %s не добавлен в лидерборд: %v",
			client.SessionID, row.ID, err)
	}

	newCount := hot.ParticipantCount + 1
	hot.ParticipantCount = newCount
	if err := h.deps.Live.UpdateSessionFields(client.SessionID, map[string]interface{}{
		"participant_count": newCount,
	}); err != nil {
		log.Printf("[WSHandler] Сессия %s: ошибка обновления participant_count: %v", client.SessionID, err)
	}
	if session, err := h.deps.SessionRepo.GetByID(client.SessionID); err == nil {
		if !session.ActiveParticipants.Contains(row.ID) {
			session.ActiveParticipants = append(session.ActiveParticipants, row.ID)
		}
		session.ParticipantCount = newCount
		if err := h.deps.SessionRepo.Update(session); err != nil {
			log.Printf("[WSHandler] Сессия %s: ошибка зеркалирования входа: %v", client.SessionID, err)
		}
	}

	h.fanout.BroadcastToSession(client.SessionID, websocket.EventParticipantJoined,
		map[string]interface{}{
			"participantId":    row.ID,
			"nickname":         row.Nickname,
			"isSpectator":      spectator,
			"participantCount": newCount,
			"timestamp":        now.UnixMilli(),
		})

	log.Printf("[WSHandler] Сессия %s: участник %s (%s) вошел, всего %d",
		client.SessionID, row.Nickname, row.ID, newCount)
	return nil
}

// sendAuthenticated отправляет соединению подтверждение с текущим снимком
// сессии
func (h *WSHandler) sendAuthenticated(client *websocket.Client) {
	payload := map[string]interface{}{
		"success":   true,
		"role":      client.Role,
		"sessionId": client.SessionID,
		"timestamp": time.Now().UnixMilli(),
	}
	if hot, err := h.deps.Live.GetSession(client.SessionID); err == nil {
		payload["currentState"] = hot.State
		payload["questionIndex"] = hot.CurrentQuestionIndex
		payload["participantCount"] = hot.ParticipantCount
		payload["allowLateJoiners"] = hot.AllowLateJoiners
		if hot.State == entity.SessionStateActiveQuestion {
			if remaining, ok := h.sessions.Timers().Remaining(client.SessionID); ok {
				payload["remainingTime"] = remaining
			}
		}
	}
	if client.Role == websocket.RoleParticipant {
		if p, err := h.deps.Live.GetParticipant(client.ParticipantID); err == nil {
			payload["participantId"] = p.ParticipantID
			payload["nickname"] = p.Nickname
			payload["totalScore"] = p.TotalScore
			payload["streakCount"] = p.StreakCount
			payload["isEliminated"] = p.IsEliminated
			payload["isSpectator"] = p.IsSpectator
		}
	}
	h.wsManager.SendEventToClient(client, websocket.EventAuthenticated, payload)
}

// afterParticipantAttached рассылает состояние лобби после входа участника
// и уведомляет контроллер о подключении
func (h *WSHandler) afterParticipantAttached(client *websocket.Client) {
	hot, err := h.deps.Live.GetSession(client.SessionID)
	if err != nil {
		return
	}
	if hot.State == entity.SessionStateLobby {
		h.fanout.BroadcastToSession(client.SessionID, websocket.EventLobbyState,
			map[string]interface{}{
				"sessionId":        client.SessionID,
				"joinCode":         hot.JoinCode,
				"participantCount": hot.ParticipantCount,
				"participants":     h.lobbyRoster(client.SessionID),
				"allowLateJoiners": hot.AllowLateJoiners,
				"timestamp":        time.Now().UnixMilli(),
			})
	}
	_ = h.fanout.PublishToController(client.SessionID, websocket.EventParticipantStatusChanged,
		map[string]interface{}{
			"participantId": client.ParticipantID,
			"nickname":      client.Nickname,
			"status":        "connected",
			"timestamp":     time.Now().UnixMilli(),
		})
}

// lobbyRoster собирает список участников лобби для lobby_state
func (h *WSHandler) lobbyRoster(sessionID string) []map[string]interface{} {
	roster := make([]map[string]interface{}, 0)
	rows, err := h.deps.ParticipantRepo.GetBySession(sessionID)
	if err != nil {
		log.Printf("[WSHandler] Сессия %s: список участников для lobby_state недоступен: %v", sessionID, err)
		return roster
	}
	for i := range rows {
		if !rows[i].IsActive {
			continue
		}
		roster = append(roster, map[string]interface{}{
			"participantId": rows[i].ID,
			"nickname":      rows[i].Nickname,
		})
	}
	return roster
}

// onDisconnect вызывается хабом при потере соединения. Горячая запись
// участника НЕ трогается: её TTL и есть окно переподключения.
func (h *WSHandler) onDisconnect(client *websocket.Client) {
	h.fanout.UnsubscribeConnection(client)
	if client.Role != websocket.RoleParticipant {
		return
	}
	_ = h.fanout.PublishToController(client.SessionID, websocket.EventParticipantStatusChanged,
		map[string]interface{}{
			"participantId": client.ParticipantID,
			"nickname":      client.Nickname,
			"status":        "disconnected",
			"timestamp":     time.Now().UnixMilli(),
		})
}

// registerMessageHandlers регистрирует обработчики для различных типов сообщений
func (h *WSHandler) registerMessageHandlers() {
	h.wsManager.RegisterHandler(websocket.ActionSubmitAnswer, h.handleSubmitAnswer)
	h.wsManager.RegisterHandler(websocket.ActionReconnectSession, h.handleReconnect)
	h.wsManager.RegisterHandler(websocket.ActionFocusLost, h.focusHandler(false))
	h.wsManager.RegisterHandler(websocket.ActionFocusRegained, h.focusHandler(true))

	h.registerHostOp(websocket.ActionStartQuiz, func(sessionID string, _ json.RawMessage) error {
		return h.sessions.StartQuiz(sessionID, sessionID)
	})
	h.registerHostOp(websocket.ActionNextQuestion, func(sessionID string, _ json.RawMessage) error {
		return h.sessions.NextQuestion(sessionID, sessionID)
	})
	h.registerHostOp(websocket.ActionEndQuiz, func(sessionID string, _ json.RawMessage) error {
		return h.sessions.EndQuiz(sessionID, sessionID)
	})
	h.registerHostOp(websocket.ActionSkipQuestion, func(sessionID string, data json.RawMessage) error {
		var req struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(data, &req)
		return h.sessions.SkipQuestion(sessionID, sessionID, req.Reason)
	})
	h.registerHostOp(websocket.ActionVoidQuestion, func(sessionID string, data json.RawMessage) error {
		var req struct {
			QuestionID string `json:"questionId"`
			Reason     string `json:"reason"`
		}
		if err := json.Unmarshal(data, &req); err != nil || req.QuestionID == "" {
			return apperrors.Reject(apperrors.KindInvalidSchema, "questionId is required")
		}
		return h.sessions.VoidQuestion(sessionID, sessionID, req.QuestionID, req.Reason)
	})
	h.registerHostOp(websocket.ActionPauseTimer, func(sessionID string, _ json.RawMessage) error {
		return h.sessions.PauseTimer(sessionID, sessionID)
	})
	h.registerHostOp(websocket.ActionResumeTimer, func(sessionID string, _ json.RawMessage) error {
		return h.sessions.ResumeTimer(sessionID, sessionID)
	})
	h.registerHostOp(websocket.ActionResetTimer, func(sessionID string, data json.RawMessage) error {
		var req struct {
			NewTimeLimit int `json:"newTimeLimit"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return apperrors.Reject(apperrors.KindInvalidSchema, "newTimeLimit is required")
		}
		return h.sessions.ResetTimer(sessionID, sessionID, req.NewTimeLimit)
	})
	h.registerHostOp(websocket.ActionKickParticipant, func(sessionID string, data json.RawMessage) error {
		var req struct {
			ParticipantID string `json:"participantId"`
			Reason        string `json:"reason"`
		}
		if err := json.Unmarshal(data, &req); err != nil || req.ParticipantID == "" {
			return apperrors.Reject(apperrors.KindInvalidSchema, "participantId is required")
		}
		return h.sessions.KickParticipant(sessionID, sessionID, req.ParticipantID, req.Reason)
	})
	h.registerHostOp(websocket.ActionBanParticipant, func(sessionID string, data json.RawMessage) error {
		var req struct {
			ParticipantID string `json:"participantId"`
			Reason        string `json:"reason"`
		}
		if err := json.Unmarshal(data, &req); err != nil || req.ParticipantID == "" {
			return apperrors.Reject(apperrors.KindInvalidSchema, "participantId is required")
		}
		return h.sessions.BanParticipant(sessionID, sessionID, req.ParticipantID, req.Reason)
	})
	h.registerHostOp(websocket.ActionToggleLateJoiners, func(sessionID string, data json.RawMessage) error {
		var req struct {
			AllowLateJoiners bool `json:"allowLateJoiners"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return apperrors.Reject(apperrors.KindInvalidSchema, "allowLateJoiners is required")
		}
		return h.sessions.ToggleLateJoiners(sessionID, sessionID, req.AllowLateJoiners)
	})
}

// handleSubmitAnswer проводит ответ через конвейер приема. Отказ любого шага
// уходит отправителю как answer_rejected и НЕ закрывает соединение.
func (h *WSHandler) handleSubmitAnswer(data json.RawMessage, client *websocket.Client) error {
	if client.Role != websocket.RoleParticipant {
		h.wsManager.SendErrorToClient(client, websocket.ActionSubmitAnswer, "Only participants submit answers")
		return nil
	}

	var req sessionmanager.SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.wsManager.SendEventToClient(client, websocket.EventAnswerRejected, map[string]interface{}{
			"reason":  string(apperrors.KindInvalidSchema),
			"message": "Malformed submit_answer payload",
		})
		return nil
	}

	accepted, err := h.sessions.HandleSubmission(client.SessionID, client.ParticipantID, &req)
	if err != nil {
		h.wsManager.SendEventToClient(client, websocket.EventAnswerRejected, map[string]interface{}{
			"questionId": req.QuestionID,
			"reason":     string(apperrors.KindOf(err)),
			"message":    apperrors.MessageOf(err),
		})
		return nil
	}

	h.wsManager.SendEventToClient(client, websocket.EventAnswerAccepted, accepted)
	return nil
}

// handleReconnect восстанавливает участника после обрыва соединения
func (h *WSHandler) handleReconnect(data json.RawMessage, client *websocket.Client) error {
	if client.Role != websocket.RoleParticipant {
		h.wsManager.SendErrorToClient(client, websocket.ActionReconnectSession, "Only participants reconnect")
		return nil
	}

	var req struct {
		LastKnownQuestionID string `json:"lastKnownQuestionId"`
	}
	_ = json.Unmarshal(data, &req)

	payload, err := h.sessions.HandleReconnect(client.SessionID, client.ParticipantID,
		req.LastKnownQuestionID, client.ConnectionID)
	if err != nil {
		h.wsManager.SendEventToClient(client, websocket.EventRecoveryFailed, map[string]interface{}{
			"reason":  string(apperrors.KindOf(err)),
			"message": apperrors.MessageOf(err),
		})
		return nil
	}

	h.wsManager.SendEventToClient(client, websocket.EventSessionRecovered, payload)
	return nil
}

// focusHandler возвращает обработчик focus_lost / focus_regained
func (h *WSHandler) focusHandler(focused bool) func(json.RawMessage, *websocket.Client) error {
	return func(_ json.RawMessage, client *websocket.Client) error {
		if client.Role != websocket.RoleParticipant {
			return nil
		}
		h.sessions.HandleFocusChange(client.SessionID, client.ParticipantID, client.Nickname, focused)
		return nil
	}
}

// registerHostOp оборачивает операцию хоста: проверка роли, вызов,
// затем <op>_ack либо error с кодом отказа
func (h *WSHandler) registerHostOp(action string, op func(sessionID string, data json.RawMessage) error) {
	h.wsManager.RegisterHandler(action, func(data json.RawMessage, client *websocket.Client) error {
		if client.Role != websocket.RoleController {
			h.wsManager.SendEventToClient(client, websocket.EventError, map[string]interface{}{
				"event":   action,
				"reason":  string(apperrors.KindInvalidRequest),
				"error":   "Host operations require a controller connection",
				"message": "Host operations require a controller connection",
			})
			return nil
		}

		if err := op(client.SessionID, data); err != nil {
			log.Printf("[WSHandler] Операция %s (сессия %s) отклонена: %v", action, client.SessionID, err)
			h.wsManager.SendEventToClient(client, websocket.EventError, map[string]interface{}{
				"event":   action,
				"reason":  string(apperrors.KindOf(err)),
				"error":   apperrors.MessageOf(err),
				"message": apperrors.MessageOf(err),
			})
			return nil
		}

		h.wsManager.SendEventToClient(client, fmt.Sprintf("%s_ack", action), map[string]interface{}{
			"success":   true,
			"timestamp": time.Now().UnixMilli(),
		})
		return nil
	})
}
