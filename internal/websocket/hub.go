package websocket

import (
	"encoding/json"
	"log"
)

// Hub управляет локальными WebSocket-соединениями процесса: индексирует их
// по сессии/роли и по participantID для юникастов. Вся маршрутизация между
// процессами идет через Fanout (pub/sub); Hub доставляет только локально.
type Hub struct {
	register   chan *Client
	unregister chan *Client

	// sessionID -> роль -> множество клиентов
	bySession map[string]map[string]map[*Client]bool

	// participantID -> клиент (при реконнекте новое соединение вытесняет старое)
	byParticipant map[string]*Client

	clientCount int

	// Запросы чтения/записи сериализуются через канал команд,
	// чтобы не держать мьютекс на пути доставки
	commands chan func()

	done chan struct{}

	// onDisconnect вызывается после дерегистрации клиента (для
	// participant_status_changed и отписки от unicast-канала)
	onDisconnect func(client *Client)
}

// NewHub создает новый хаб соединений
func NewHub() *Hub {
	return &Hub{
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		bySession:     make(map[string]map[string]map[*Client]bool),
		byParticipant: make(map[string]*Client),
		commands:      make(chan func(), 256),
		done:          make(chan struct{}),
	}
}

// SetDisconnectHandler устанавливает колбэк дерегистрации. Должен быть
// вызван до Run.
func (h *Hub) SetDisconnectHandler(fn func(client *Client)) {
	h.onDisconnect = fn
}

// Run запускает цикл обработки хаба. Блокирует до Stop.
func (h *Hub) Run() {
	log.Println("[Hub] Цикл обработки соединений запущен")
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case cmd := <-h.commands:
			cmd()
		case <-h.done:
			log.Println("[Hub] Остановка: закрываем все соединения")
			for _, roles := range h.bySession {
				for _, clients := range roles {
					for client := range clients {
						client.CloseSend()
					}
				}
			}
			return
		}
	}
}

// Stop останавливает цикл хаба и закрывает все соединения
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) addClient(c *Client) {
	roles, ok := h.bySession[c.SessionID]
	if !ok {
		roles = make(map[string]map[*Client]bool)
		h.bySession[c.SessionID] = roles
	}
	clients, ok := roles[c.Role]
	if !ok {
		clients = make(map[*Client]bool)
		roles[c.Role] = clients
	}
	clients[c] = true
	h.clientCount++

	if c.Role == RoleParticipant && c.ParticipantID != "" {
		// Старое соединение того же участника вытесняется: канал закрывается,
		// его pumps завершатся и дерегистрируют его сами
		if old, ok := h.byParticipant[c.ParticipantID]; ok && old != c {
			log.Printf("[Hub] Участник %s переподключился, закрываем старое соединение %s",
				c.ParticipantID, old.ConnectionID)
			old.CloseSend()
		}
		h.byParticipant[c.ParticipantID] = c
	}

	log.Printf("[Hub] Зарегистрировано соединение %s (роль=%s, сессия=%s), всего клиентов: %d",
		c.ConnectionID, c.Role, c.SessionID, h.clientCount)

	select {
	case c.registrationComplete <- struct{}{}:
	default:
	}
}

func (h *Hub) removeClient(c *Client) {
	roles, ok := h.bySession[c.SessionID]
	if !ok {
		return
	}
	clients, ok := roles[c.Role]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	h.clientCount--
	if len(clients) == 0 {
		delete(roles, c.Role)
	}
	if len(roles) == 0 {
		delete(h.bySession, c.SessionID)
	}

	// Снимаем unicast-индекс только если он все еще указывает на это соединение
	if c.Role == RoleParticipant && h.byParticipant[c.ParticipantID] == c {
		delete(h.byParticipant, c.ParticipantID)
	}

	c.CloseSend()
	log.Printf("[Hub] Соединение %s дерегистрировано (роль=%s, сессия=%s), всего клиентов: %d",
		c.ConnectionID, c.Role, c.SessionID, h.clientCount)

	if h.onDisconnect != nil {
		go h.onDisconnect(c)
	}
}

// Register регистрирует клиента в хабе
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister дерегистрирует клиента
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

// BroadcastToRole доставляет сообщение всем локальным клиентам сессии с
// указанной ролью
func (h *Hub) BroadcastToRole(sessionID, role string, message []byte) {
	h.dispatch(func() {
		roles, ok := h.bySession[sessionID]
		if !ok {
			return
		}
		for client := range roles[role] {
			client.QueueMessage(message)
		}
	})
}

// SendToParticipant доставляет сообщение соединению конкретного участника.
// Возвращает true, если участник подключен локально.
func (h *Hub) SendToParticipant(participantID string, message []byte) bool {
	result := make(chan bool, 1)
	if !h.dispatch(func() {
		client, ok := h.byParticipant[participantID]
		if ok {
			client.QueueMessage(message)
		}
		result <- ok
	}) {
		return false
	}
	select {
	case ok := <-result:
		return ok
	case <-h.done:
		return false
	}
}

// SendJSONToParticipant сериализует событие и отправляет его участнику
func (h *Hub) SendJSONToParticipant(participantID string, event Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[Hub] Ошибка сериализации события %s для участника %s: %v",
			event.Type, participantID, err)
		return false
	}
	return h.SendToParticipant(participantID, data)
}

// DisconnectParticipant принудительно закрывает соединение участника
// (kick/ban). Сообщение с причиной должно быть отправлено до вызова.
func (h *Hub) DisconnectParticipant(participantID string) {
	h.dispatch(func() {
		if client, ok := h.byParticipant[participantID]; ok {
			client.CloseSend()
		}
	})
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	result := make(chan int, 1)
	if !h.dispatch(func() { result <- h.clientCount }) {
		return 0
	}
	select {
	case n := <-result:
		return n
	case <-h.done:
		return 0
	}
}

// ControllerAttached сообщает, подключен ли контроллер сессии к этому
// процессу (нужно для метрик: system_metrics шлются, пока хост на связи)
func (h *Hub) ControllerAttached(sessionID string) bool {
	result := make(chan bool, 1)
	if !h.dispatch(func() {
		roles, ok := h.bySession[sessionID]
		result <- ok && len(roles[RoleController]) > 0
	}) {
		return false
	}
	select {
	case ok := <-result:
		return ok
	case <-h.done:
		return false
	}
}

func (h *Hub) dispatch(cmd func()) bool {
	select {
	case h.commands <- cmd:
		return true
	case <-h.done:
		return false
	}
}
