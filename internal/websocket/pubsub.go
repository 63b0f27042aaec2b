package websocket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// PubSubProvider определяет интерфейс для провайдеров публикации/подписки
type PubSubProvider interface {
	// Publish публикует сообщение в указанный канал
	Publish(channel string, message []byte) error

	// Subscribe подписывается на указанный канал и возвращает канал для сообщений
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	// Close закрывает все подписки и освобождает ресурсы
	Close() error
}

// NoOpPubSub реализует PubSubProvider без внешнего брокера. Используется
// в тестах, где перенос сообщений делает сам тест
type NoOpPubSub struct{}

// Publish реализует метод PubSubProvider.Publish для NoOpPubSub
func (p *NoOpPubSub) Publish(channel string, message []byte) error {
	return nil
}

// Subscribe реализует метод PubSubProvider.Subscribe для NoOpPubSub
func (p *NoOpPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	// Возвращаем пустой канал, который никогда не получит сообщения
	msgCh := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(msgCh)
	}()
	return msgCh, nil
}

// Close реализует метод PubSubProvider.Close для NoOpPubSub
func (p *NoOpPubSub) Close() error {
	return nil
}

// RedisPubSub реализует PubSubProvider с использованием Redis.
// Redis Pub/Sub гарантирует порядок доставки внутри одного канала,
// на этом держится согласованность question_started -> timer_tick
type RedisPubSub struct {
	client        redis.UniversalClient
	ctx           context.Context
	cancel        context.CancelFunc
	subscriptions sync.Map   // channel -> *redis.PubSub
	mu            sync.Mutex // Защищает создание/закрытие подписок
}

// NewRedisPubSub создает новый Redis Pub/Sub провайдер, используя существующий UniversalClient.
func NewRedisPubSub(client redis.UniversalClient) (*RedisPubSub, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil for RedisPubSub")
	}

	// Проверяем соединение клиента перед использованием
	ctx, cancelCheck := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCheck()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("provided redis client failed ping check: %w", err)
	}

	ctxPubSub, cancelPubSub := context.WithCancel(context.Background())

	return &RedisPubSub{
		client: client,
		ctx:    ctxPubSub,
		cancel: cancelPubSub,
	}, nil
}

// Publish публикует сообщение в указанный канал
func (p *RedisPubSub) Publish(channel string, message []byte) error {
	cmd := p.client.Publish(p.ctx, channel, message)
	if err := cmd.Err(); err != nil {
		log.Printf("[RedisPubSub] Ошибка публикации в канал '%s': %v", channel, err)
		return fmt.Errorf("failed to publish to Redis channel %s: %w", channel, err)
	}
	return nil
}

// Subscribe подписывается на указанный канал Redis. Повторная подписка на
// тот же канал получает прокси поверх существующей подписки
func (p *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sub, ok := p.subscriptions.Load(channel); ok {
		redisSub, ok := sub.(*redis.PubSub)
		if ok {
			// Создаем канал-прокси, чтобы не закрыть оригинальный
			msgChProxy := make(chan []byte, 100)
			go func() {
				origCh := redisSub.Channel()
				for {
					select {
					case msg, ok := <-origCh:
						if !ok {
							close(msgChProxy)
							return
						}
						select {
						case msgChProxy <- []byte(msg.Payload):
						default:
							log.Printf("[RedisPubSub] Прокси-канал '%s' переполнен, сообщение отброшено", channel)
						}
					case <-ctx.Done():
						close(msgChProxy)
						return
					case <-p.ctx.Done():
						close(msgChProxy)
						return
					}
				}
			}()
			return msgChProxy, nil
		}
	}

	pubsub := p.client.Subscribe(p.ctx, channel)

	// Ждем подтверждения подписки
	if _, err := pubsub.Receive(p.ctx); err != nil {
		pubsub.Close()
		log.Printf("[RedisPubSub] Ошибка подтверждения подписки на канал '%s': %v", channel, err)
		return nil, fmt.Errorf("failed to subscribe to Redis channel %s: %w", channel, err)
	}

	p.subscriptions.Store(channel, pubsub)
	log.Printf("[RedisPubSub] Подписка на канал '%s' установлена", channel)

	msgCh := make(chan []byte, 100)

	go func() {
		defer func() {
			p.mu.Lock()
			p.subscriptions.Delete(channel)
			p.mu.Unlock()
			pubsub.Close()
			close(msgCh)
			log.Printf("[RedisPubSub] Подписка на канал '%s' снята", channel)
		}()

		redisCh := pubsub.Channel()
		for {
			select {
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case msgCh <- []byte(msg.Payload):
				case <-p.ctx.Done():
					return
				case <-ctx.Done():
					return
				}
			case <-p.ctx.Done():
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return msgCh, nil
}

// Close закрывает все активные подписки. Сам клиент Redis не закрывается:
// он общий с fast store и закрывается на уровне приложения
func (p *RedisPubSub) Close() error {
	log.Println("[RedisPubSub] Закрытие всех подписок...")
	p.cancel()

	var lastErr error
	p.subscriptions.Range(func(key, value interface{}) bool {
		channel := key.(string)
		if pubsub, ok := value.(*redis.PubSub); ok {
			if err := pubsub.Close(); err != nil {
				log.Printf("[RedisPubSub] Ошибка закрытия подписки на канал '%s': %v", channel, err)
				lastErr = err
			}
		}
		return true
	})
	return lastErr
}
