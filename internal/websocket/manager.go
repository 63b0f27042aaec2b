package websocket

import (
	"encoding/json"
	"fmt"
	"log"
)

// Manager диспетчеризует входящие WebSocket-сообщения по зарегистрированным
// обработчикам
type Manager struct {
	hub            *Hub
	messageHandler map[string]func(data json.RawMessage, client *Client) error
}

// NewManager создает новый менеджер WebSocket
func NewManager(hub *Hub) *Manager {
	return &Manager{
		hub:            hub,
		messageHandler: make(map[string]func(data json.RawMessage, client *Client) error),
	}
}

// RegisterHandler регистрирует обработчик для определенного типа сообщений
func (m *Manager) RegisterHandler(eventType string, handler func(data json.RawMessage, client *Client) error) {
	m.messageHandler[eventType] = handler
	log.Printf("[WebSocketManager] Зарегистрирован обработчик для сообщений типа: %s", eventType)
}

// HandleMessage обрабатывает входящее сообщение от клиента.
// Возвращает error, если обработка не удалась и соединение нужно закрыть.
func (m *Manager) HandleMessage(message []byte, client *Client) error {
	var event Event
	if err := json.Unmarshal(message, &event); err != nil {
		log.Printf("[WebSocketManager] Ошибка парсинга сообщения (Conn %s): %v, Сообщение: %s",
			client.ConnectionID, err, string(message))
		m.SendErrorToClient(client, "invalid_message_format", "Invalid JSON format")
		return err // Ошибка парсинга - закрываем соединение
	}

	handler, ok := m.messageHandler[event.Type]
	if !ok {
		log.Printf("[WebSocketManager] Нет обработчика для сообщений типа '%s' (Conn %s)",
			event.Type, client.ConnectionID)
		m.SendErrorToClient(client, "unknown_message_type", fmt.Sprintf("Unknown message type: %s", event.Type))
		return nil // Неизвестный тип - не закрываем соединение
	}

	rawData, _ := json.Marshal(event.Data)
	if err := handler(rawData, client); err != nil {
		log.Printf("[WebSocketManager] Обработчик '%s' вернул ошибку (Conn %s): %v",
			event.Type, client.ConnectionID, err)
		return err
	}
	return nil
}

// SendErrorToClient отправляет стандартизированное сообщение об ошибке клиенту.
// Этот метод НЕ закрывает соединение.
func (m *Manager) SendErrorToClient(client *Client, event string, message string) {
	m.SendEventToClient(client, EventError, map[string]string{
		"event": event,
		"error": message,
	})
}

// SendEventToClient сериализует событие и кладет его напрямую в буфер
// соединения, минуя pub/sub. Используется для ответов, адресованных именно
// этому соединению (ack хоста, auth_error)
func (m *Manager) SendEventToClient(client *Client, eventType string, data interface{}) {
	payload, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		log.Printf("[WebSocketManager] Ошибка сериализации события %s (Conn %s): %v",
			eventType, client.ConnectionID, err)
		return
	}
	client.QueueMessage(payload)
}

// SendEventToParticipant отправляет событие конкретному локально
// подключенному участнику
func (m *Manager) SendEventToParticipant(participantID string, eventType string, data interface{}) bool {
	return m.hub.SendJSONToParticipant(participantID, Event{Type: eventType, Data: data})
}
