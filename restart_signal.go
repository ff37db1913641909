// restart_signal.go: restart requests delivered over RabbitMQ or Redis pub/sub
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// restartPublishTimeout bounds one restart publication.
const restartPublishTimeout = 10 * time.Second

// RestartRequest is the message a restart transport publishes. The process
// supervisor consuming it performs the actual restart.
type RestartRequest struct {
	ID          string    `json:"id"`
	Cause       string    `json:"cause"`
	Host        string    `json:"host"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewRestartRequest stamps a request for cause.
func NewRestartRequest(cause string) RestartRequest {
	host, _ := os.Hostname()
	return RestartRequest{
		ID:          uuid.NewString(),
		Cause:       cause,
		Host:        host,
		RequestedAt: timecache.CachedTime(),
	}
}

// Encode returns the JSON body of the request.
func (r RestartRequest) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// AMQPRestarter publishes restart requests to a RabbitMQ queue.
type AMQPRestarter struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	logger Logger
	mu     sync.Mutex
}

// NewAMQPRestarter dials url and declares a durable queue.
func NewAMQPRestarter(url, queue string, logger any) (*AMQPRestarter, error) {
	if url == "" {
		return nil, NewRestartError("RabbitMQ URL is required", nil)
	}
	if queue == "" {
		queue = "pluginhost.restart"
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, NewRestartError("cannot connect to RabbitMQ", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, NewRestartError("cannot open RabbitMQ channel", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, NewRestartError("cannot declare restart queue", err)
	}
	return &AMQPRestarter{conn: conn, ch: ch, queue: queue, logger: NewLogger(logger)}, nil
}

// Publish sends one restart request.
func (r *AMQPRestarter) Publish(ctx context.Context, request RestartRequest) error {
	body, err := request.Encode()
	if err != nil {
		return NewRestartError("cannot encode restart request", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.ch.PublishWithContext(ctx, "", r.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    request.ID,
		Timestamp:    request.RequestedAt,
		Body:         body,
	})
	if err != nil {
		return NewRestartError("cannot publish restart request", err)
	}
	return nil
}

// Restart implements Restarter.
func (r *AMQPRestarter) Restart(cause string) {
	ctx, cancel := context.WithTimeout(context.Background(), restartPublishTimeout)
	defer cancel()

	request := NewRestartRequest(cause)
	if err := r.Publish(ctx, request); err != nil {
		r.logger.Error("Restart request not delivered", "transport", "amqp", "request", request.ID, "error", err)
		return
	}
	r.logger.Info("Restart request published", "transport", "amqp", "queue", r.queue, "request", request.ID, "cause", cause)
}

// Close releases the channel and connection.
func (r *AMQPRestarter) Close() error {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// RedisRestarter publishes restart requests on a Redis pub/sub channel.
type RedisRestarter struct {
	client  *redis.Client
	channel string
	logger  Logger
}

// NewRedisRestarter connects to addr and verifies the connection.
func NewRedisRestarter(ctx context.Context, addr, password string, db int, channel string, logger any) (*RedisRestarter, error) {
	if addr == "" {
		return nil, NewRestartError("Redis address is required", nil)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, NewRestartError("cannot connect to Redis", err)
	}
	return NewRedisRestarterWithClient(client, channel, logger), nil
}

// NewRedisRestarterWithClient publishes through an existing client.
func NewRedisRestarterWithClient(client *redis.Client, channel string, logger any) *RedisRestarter {
	if channel == "" {
		channel = "pluginhost:restart"
	}
	return &RedisRestarter{client: client, channel: channel, logger: NewLogger(logger)}
}

// Publish sends one restart request.
func (r *RedisRestarter) Publish(ctx context.Context, request RestartRequest) error {
	body, err := request.Encode()
	if err != nil {
		return NewRestartError("cannot encode restart request", err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return NewRestartError("cannot publish restart request", err)
	}
	return nil
}

// Restart implements Restarter.
func (r *RedisRestarter) Restart(cause string) {
	ctx, cancel := context.WithTimeout(context.Background(), restartPublishTimeout)
	defer cancel()

	request := NewRestartRequest(cause)
	if err := r.Publish(ctx, request); err != nil {
		r.logger.Error("Restart request not delivered", "transport", "redis", "request", request.ID, "error", err)
		return
	}
	r.logger.Info("Restart request published", "transport", "redis", "channel", r.channel, "request", request.ID, "cause", cause)
}

// Close closes the Redis client.
func (r *RedisRestarter) Close() error {
	return r.client.Close()
}
