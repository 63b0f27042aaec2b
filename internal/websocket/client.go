package websocket

import (
	"bytes"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Время, которое разрешено писать сообщение клиенту.
	writeWait = 10 * time.Second

	// Время, которое разрешено клиенту читать следующее сообщение.
	pongWait = 30 * time.Second

	// Периодичность отправки ping-сообщений клиенту.
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения. Самое крупное легитимное
	// сообщение - submit_answer с набором UUID опций
	maxMessageSize = 2048

	// Размер буфера канала отправки сообщений клиенту
	defaultClientBufferSize = 128

	// Максимальное количество переполнений буфера до отключения клиента
	maxBufferOverflows = 3
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Client является посредником между WebSocket соединением и хабом.
// Роль и привязка к сессии/участнику фиксируются при аутентификации
// и не меняются за время жизни соединения.
type Client struct {
	// Роль соединения: participant, controller или bigscreen
	Role string

	// Сессия, к которой привязано соединение
	SessionID string

	// Заполнены только для роли participant
	ParticipantID string
	Nickname      string

	// IP подключения (нужен для ban_participant)
	IP string

	// Уникальный ID для каждого соединения
	ConnectionID string

	hub  *Hub
	conn *websocket.Conn

	// Буферизованный канал для исходящих сообщений
	send chan []byte

	// Флаг, указывающий что канал send закрыт (для предотвращения panic)
	sendClosed atomic.Bool

	// Время последней активности клиента
	lastActivity atomic.Int64

	// Канал для ожидания завершения регистрации в хабе
	registrationComplete chan struct{}

	// Счетчик переполнений буфера отправки
	overflowCount   int32
	overflowCountMu sync.Mutex
}

// NewClient создает нового клиента с указанной ролью
func NewClient(hub *Hub, conn *websocket.Conn, role, sessionID, participantID, nickname, ip string) *Client {
	c := &Client{
		Role:                 role,
		SessionID:            sessionID,
		ParticipantID:        participantID,
		Nickname:             nickname,
		IP:                   ip,
		ConnectionID:         uuid.New().String(),
		hub:                  hub,
		conn:                 conn,
		send:                 make(chan []byte, defaultClientBufferSize),
		registrationComplete: make(chan struct{}, 1),
	}
	c.lastActivity.Store(time.Now().UnixMilli())
	return c
}

// QueueMessage кладет сообщение в буфер отправки клиента. При переполнении
// буфера сообщение отбрасывается; после maxBufferOverflows подряд клиент
// отключается как не читающий
func (c *Client) QueueMessage(message []byte) bool {
	if c.sendClosed.Load() {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		n := c.incrementOverflowCount()
		log.Printf("[Client %s][Conn %s] Буфер отправки переполнен (%d/%d), сообщение отброшено",
			c.Role, c.ConnectionID, n, maxBufferOverflows)
		if n >= maxBufferOverflows {
			log.Printf("[Client %s][Conn %s] Клиент не читает сообщения, закрываем соединение",
				c.Role, c.ConnectionID)
			c.CloseSend()
		}
		return false
	}
}

// readPump читает сообщения от клиента и передает их обработчику
func (c *Client) readPump(messageHandler func(message []byte, client *Client) error) {
	defer func() {
		log.Printf("[Client %s][Conn %s] Read pump остановлен", c.Role, c.ConnectionID)
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.lastActivity.Store(time.Now().UnixMilli())
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Client %s][Conn %s] Ошибка чтения: %v", c.Role, c.ConnectionID, err)
			}
			break
		}

		c.lastActivity.Store(time.Now().UnixMilli())

		if handlerErr := safeHandleMessage(message, c, messageHandler); handlerErr != nil {
			// Ошибка обработчика фатальна для соединения
			log.Printf("[Client %s][Conn %s] Ошибка обработчика: %v. Закрываем соединение",
				c.Role, c.ConnectionID, handlerErr)
			break
		}

		c.resetOverflowCount()
	}
}

// safeHandleMessage - обертка для вызова обработчика с recover.
// Паника в обработчике не должна ронять процесс
func safeHandleMessage(message []byte, client *Client, messageHandler func(message []byte, client *Client) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC в обработчике сообщений (Conn %s): %v\nStack trace:\n%s",
				client.ConnectionID, r, string(debug.Stack()))
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()
	message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))
	if messageHandler != nil {
		err = messageHandler(message, client)
	} else {
		log.Printf("Warning: обработчик сообщений не зарегистрирован (Conn %s)", client.ConnectionID)
	}
	return err
}

// writePump отправляет сообщения клиенту из канала send
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		log.Printf("[Client %s][Conn %s] Write pump остановлен", c.Role, c.ConnectionID)
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("[Client %s][Conn %s] SetWriteDeadline: %v", c.Role, c.ConnectionID, err)
				return
			}

			if !ok {
				// Канал send закрыт хабом
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				log.Printf("[Client %s][Conn %s] NextWriter: %v", c.Role, c.ConnectionID, err)
				return
			}
			if _, err := w.Write(message); err != nil {
				log.Printf("[Client %s][Conn %s] Write: %v", c.Role, c.ConnectionID, err)
			}
			if err := w.Close(); err != nil {
				log.Printf("[Client %s][Conn %s] Writer close: %v", c.Role, c.ConnectionID, err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[Client %s][Conn %s] Ping: %v", c.Role, c.ConnectionID, err)
				return
			}
		}
	}
}

// StartPumps регистрирует клиента в хабе и запускает горутины чтения и записи
func (c *Client) StartPumps(messageHandler func(message []byte, client *Client) error) {
	if c.SessionID == "" {
		log.Printf("[Client %s][Conn %s] Нет привязки к сессии, соединение закрыто", c.Role, c.ConnectionID)
		c.conn.Close()
		return
	}

	c.hub.Register(c)

	select {
	case <-c.registrationComplete:
	case <-time.After(5 * time.Second):
		log.Printf("[Client %s][Conn %s] Таймаут регистрации в хабе", c.Role, c.ConnectionID)
		c.conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(messageHandler)
}

// CloseSend безопасно закрывает канал send (только один раз).
// Возвращает true, если канал был закрыт этим вызовом
func (c *Client) CloseSend() bool {
	if c.sendClosed.CompareAndSwap(false, true) {
		close(c.send)
		return true
	}
	return false
}

// IsSendClosed проверяет, закрыт ли канал send
func (c *Client) IsSendClosed() bool {
	return c.sendClosed.Load()
}

// LastActivity возвращает время последней активности клиента
func (c *Client) LastActivity() time.Time {
	return time.UnixMilli(c.lastActivity.Load())
}

func (c *Client) incrementOverflowCount() int32 {
	c.overflowCountMu.Lock()
	defer c.overflowCountMu.Unlock()
	c.overflowCount++
	return c.overflowCount
}

func (c *Client) resetOverflowCount() {
	c.overflowCountMu.Lock()
	defer c.overflowCountMu.Unlock()
	c.overflowCount = 0
}
