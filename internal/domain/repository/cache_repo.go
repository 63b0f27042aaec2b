package repository

import (
	"time"
)

// CacheRepository определяет низкоуровневые методы для работы с кешем
// (одиночные ключи: маркеры, счетчики, фокус-флаги). Доменные структуры
// горячего состояния живут в LiveStore.
type CacheRepository interface {
	Set(key string, value interface{}, expiration time.Duration) error
	Get(key string) (string, error)
	Delete(key string) error
	Increment(key string) (int64, error)
	SetJSON(key string, value interface{}, expiration time.Duration) error
	GetJSON(key string, dest interface{}) error
	Exists(key string) (bool, error)
	Expire(key string, expiration time.Duration) error
	// SetNX устанавливает значение ключа, только если ключ не существует.
	// Атомарная точка дедупликации ответов.
	SetNX(key string, value interface{}, expiration time.Duration) (bool, error)
}
