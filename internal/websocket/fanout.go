package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"
)

var errMissingEvent = errors.New("message has no event field")

// Имена каналов fan-out слоя. Все каналы, кроме participant:{pid},
// скоупированы на одну сессию.
func StateChannel(sessionID string) string        { return "session:" + sessionID + ":state" }
func ControllerChannel(sessionID string) string   { return "session:" + sessionID + ":controller" }
func BigScreenChannel(sessionID string) string    { return "session:" + sessionID + ":bigscreen" }
func ParticipantsChannel(sessionID string) string { return "session:" + sessionID + ":participants" }
func ParticipantChannel(participantID string) string {
	return "participant:" + participantID
}
func ScoringChannel(sessionID string) string { return "session:" + sessionID + ":scoring" }

// Fanout публикует события в ролевые каналы сессии и маршрутизирует
// полученные из pub/sub сообщения локальным соединениям хаба. Формат
// сообщения на проводе: {"event": <имя>, ...поля полезной нагрузки};
// клиенту событие доставляется конвертом {type, data}.
type Fanout struct {
	provider PubSubProvider
	hub      *Hub

	ctx    context.Context
	cancel context.CancelFunc

	// Каналы сессии подписываются один раз на процесс
	sessionSubs sync.Map // sessionID -> struct{}

	// participantID -> context.CancelFunc подписки на unicast-канал
	participantSubs sync.Map

	// EWMA времени публикации, питает averageLatency в system_metrics
	latencyMu sync.Mutex
	latencyMs float64
}

// NewFanout создает fan-out слой поверх провайдера pub/sub и хаба
func NewFanout(provider PubSubProvider, hub *Hub) *Fanout {
	ctx, cancel := context.WithCancel(context.Background())
	return &Fanout{
		provider: provider,
		hub:      hub,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Publish сериализует {event, ...payload} и публикует одним сообщением.
// Ошибка публикации логируется и возвращается; в путях трансляции вызывающие
// ее глотают - отказ брокера не должен ронять игровой цикл
func (f *Fanout) Publish(channel, event string, payload map[string]interface{}) error {
	message := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		message[k] = v
	}
	message["event"] = event

	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[Fanout] Ошибка сериализации события %s для канала %s: %v", event, channel, err)
		return err
	}

	start := time.Now()
	err = f.provider.Publish(channel, data)
	f.recordLatency(time.Since(start))
	if err != nil {
		log.Printf("[Fanout] Ошибка публикации события %s в канал %s: %v", event, channel, err)
	}
	return err
}

// PublishToState публикует событие в control-plane канал сессии
func (f *Fanout) PublishToState(sessionID, event string, payload map[string]interface{}) error {
	return f.Publish(StateChannel(sessionID), event, payload)
}

// PublishToController публикует событие в канал хоста
func (f *Fanout) PublishToController(sessionID, event string, payload map[string]interface{}) error {
	return f.Publish(ControllerChannel(sessionID), event, payload)
}

// PublishToBigScreen публикует событие в канал большого экрана
func (f *Fanout) PublishToBigScreen(sessionID, event string, payload map[string]interface{}) error {
	return f.Publish(BigScreenChannel(sessionID), event, payload)
}

// PublishToParticipants публикует событие в общий канал игроков
func (f *Fanout) PublishToParticipants(sessionID, event string, payload map[string]interface{}) error {
	return f.Publish(ParticipantsChannel(sessionID), event, payload)
}

// PublishToParticipant публикует юникаст-событие одному игроку
func (f *Fanout) PublishToParticipant(participantID, event string, payload map[string]interface{}) error {
	return f.Publish(ParticipantChannel(participantID), event, payload)
}

// BroadcastToSession публикует событие идентично в state, controller,
// bigscreen и participants. Четыре доставки намеренны: каждая роль
// подписана на свой набор каналов. Публикации последовательные, чтобы
// сохранить порядок внутри каждого канала
func (f *Fanout) BroadcastToSession(sessionID, event string, payload map[string]interface{}) {
	_ = f.Publish(StateChannel(sessionID), event, payload)
	_ = f.Publish(ControllerChannel(sessionID), event, payload)
	_ = f.Publish(BigScreenChannel(sessionID), event, payload)
	_ = f.Publish(ParticipantsChannel(sessionID), event, payload)
}

// PublishScoringItem кладет рабочий элемент в очередь скоринга сессии
func (f *Fanout) PublishScoringItem(sessionID string, item interface{}) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return f.provider.Publish(ScoringChannel(sessionID), data)
}

// SubscribeScoring подписывает воркер скоринга на очередь сессии
func (f *Fanout) SubscribeScoring(ctx context.Context, sessionID string) (<-chan []byte, error) {
	return f.provider.Subscribe(ctx, ScoringChannel(sessionID))
}

// SubscribeConnection подписывает соединение на каналы его роли:
//   - participant: session:{sid}:participants + participant:{pid}
//   - controller:  session:{sid}:state + session:{sid}:controller
//   - bigscreen:   session:{sid}:bigscreen
//
// Сессионные каналы процесс слушает по одному разу и раздает локально по
// ролям, поэтому здесь достаточно убедиться, что подписки сессии подняты,
// и поднять unicast-канал участника.
func (f *Fanout) SubscribeConnection(client *Client) error {
	if err := f.EnsureSessionSubscriptions(client.SessionID); err != nil {
		return err
	}
	if client.Role == RoleParticipant && client.ParticipantID != "" {
		return f.subscribeParticipant(client.ParticipantID)
	}
	return nil
}

// UnsubscribeConnection снимает unicast-подписку участника. Сессионные
// каналы остаются поднятыми: ими пользуются остальные соединения сессии.
// Ошибки глотаются - путь дисконнекта обязан быть best-effort
func (f *Fanout) UnsubscribeConnection(client *Client) {
	if client.Role != RoleParticipant || client.ParticipantID == "" {
		return
	}
	if cancel, ok := f.participantSubs.LoadAndDelete(client.ParticipantID); ok {
		cancel.(context.CancelFunc)()
	}
}

// EnsureSessionSubscriptions поднимает потребителей четырех ролевых каналов
// сессии (однократно на процесс)
func (f *Fanout) EnsureSessionSubscriptions(sessionID string) error {
	if _, loaded := f.sessionSubs.LoadOrStore(sessionID, struct{}{}); loaded {
		return nil
	}

	// Маршрутизация канал -> локальная роль повторяет набор подписок ролей
	routes := []struct {
		channel string
		role    string
	}{
		{StateChannel(sessionID), RoleController},
		{ControllerChannel(sessionID), RoleController},
		{BigScreenChannel(sessionID), RoleBigScreen},
		{ParticipantsChannel(sessionID), RoleParticipant},
	}

	for _, route := range routes {
		msgCh, err := f.provider.Subscribe(f.ctx, route.channel)
		if err != nil {
			f.sessionSubs.Delete(sessionID)
			return err
		}
		go f.consumeChannel(msgCh, route.channel, func(message []byte) {
			f.hub.BroadcastToRole(sessionID, route.role, message)
		})
	}

	log.Printf("[Fanout] Каналы сессии %s подняты", sessionID)
	return nil
}

// subscribeParticipant поднимает потребителя unicast-канала участника
func (f *Fanout) subscribeParticipant(participantID string) error {
	ctx, cancel := context.WithCancel(f.ctx)
	if _, loaded := f.participantSubs.LoadOrStore(participantID, cancel); loaded {
		// Уже подписаны (переподключение того же участника)
		cancel()
		return nil
	}

	msgCh, err := f.provider.Subscribe(ctx, ParticipantChannel(participantID))
	if err != nil {
		f.participantSubs.Delete(participantID)
		cancel()
		return err
	}

	go f.consumeChannel(msgCh, ParticipantChannel(participantID), func(message []byte) {
		f.hub.SendToParticipant(participantID, message)
	})
	return nil
}

// consumeChannel перекладывает сообщения pub/sub в локальную доставку.
// Сообщение на проводе {"event": X, ...rest} конвертируется в клиентский
// конверт {"type": X, "data": {rest}}. Некорректные сообщения отбрасываются
// с предупреждением - потребитель не имеет права упасть
func (f *Fanout) consumeChannel(msgCh <-chan []byte, channel string, deliver func(message []byte)) {
	for {
		select {
		case <-f.ctx.Done():
			return
		case raw, ok := <-msgCh:
			if !ok {
				return
			}
			out, err := rewrapMessage(raw)
			if err != nil {
				log.Printf("[Fanout] Отброшено некорректное сообщение из канала %s: %v", channel, err)
				continue
			}
			deliver(out)
		}
	}
}

// rewrapMessage превращает {"event": X, ...rest} в {"type": X, "data": {rest}}
func rewrapMessage(raw []byte) ([]byte, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	event, ok := payload["event"].(string)
	if !ok || event == "" {
		return nil, errMissingEvent
	}
	delete(payload, "event")
	return json.Marshal(Event{Type: event, Data: payload})
}

// AverageLatencyMs возвращает сглаженное время публикации в миллисекундах
func (f *Fanout) AverageLatencyMs() float64 {
	f.latencyMu.Lock()
	defer f.latencyMu.Unlock()
	return f.latencyMs
}

func (f *Fanout) recordLatency(d time.Duration) {
	const alpha = 0.2
	sample := float64(d.Microseconds()) / 1000.0
	f.latencyMu.Lock()
	if f.latencyMs == 0 {
		f.latencyMs = sample
	} else {
		f.latencyMs = alpha*sample + (1-alpha)*f.latencyMs
	}
	f.latencyMu.Unlock()
}

// Close останавливает всех потребителей fan-out слоя
func (f *Fanout) Close() {
	f.cancel()
}
