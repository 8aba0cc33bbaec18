// Package cache хранит в Redis отметки об уже обработанных обновлениях Telegram,
// чтобы повторно доставленное обновление не обрабатывалось дважды.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/numerology-bot/internal/config"
)

type Cache struct {
	Db *redis.Client
}

func InitServer(ctx context.Context, cfg config.RedisConnection) (*Cache, error) {
	const op = "cache.InitServer"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Cache{Db: db}, nil
}

// Claim атомарно помечает key как занятый на ttl. Возвращает false, если ключ
// уже был занят кем-то раньше.
func (c *Cache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	const op = "cache.Claim"
	ok, err := c.Db.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

// Release снимает отметку, чтобы обновление можно было обработать повторно.
func (c *Cache) Release(ctx context.Context, key string) error {
	const op = "cache.Release"
	if err := c.Db.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.Db.Close()
}

// Nop — заглушка, когда Redis не настроен: каждое обновление считается новым.
type Nop struct{}

func (Nop) Claim(context.Context, string, time.Duration) (bool, error) { return true, nil }

func (Nop) Release(context.Context, string) error { return nil }

func (Nop) Close() error { return nil }

// Store — общий интерфейс Cache и Nop.
type Store interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Close() error
}

// Open подключается к Redis или возвращает Nop, если адрес не задан.
func Open(ctx context.Context, cfg config.RedisConnection) (Store, error) {
	if cfg.AddressRedis == "" {
		return Nop{}, nil
	}
	c, err := InitServer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateKey возвращает ключ отметки для обновления Telegram.
func UpdateKey(updateID int) string {
	return fmt.Sprintf("update:%d", updateID)
}
