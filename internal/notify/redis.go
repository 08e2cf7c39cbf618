package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Freeeeeet/lesson_scheduler/internal/events"
	"github.com/redis/go-redis/v9"
)

// RedisPublisher часть *redis.Client, которая нужна каналу
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisChannel публикует события в JSON в канал Redis для внешних
// получателей (почтовый сервис и другие)
type RedisChannel struct {
	client  RedisPublisher
	channel string
}

func NewRedisChannel(client RedisPublisher, channel string) *RedisChannel {
	if channel == "" {
		channel = "scheduler.events"
	}
	return &RedisChannel{
		client:  client,
		channel: channel,
	}
}

func (c *RedisChannel) Name() string { return "redis" }

// Send публикует событие
func (c *RedisChannel) Send(ctx context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := c.client.Publish(ctx, c.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// NewRedisClient создаёт клиент и проверяет соединение
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
