package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
)

// JobQueue is the durable queue name carrying both task types.
const JobQueue = "secpipe.jobs"

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// Handler processes one decoded task envelope. A nil return acknowledges
// the delivery; an error rejects it without re-queueing, because a failed
// scan must not be retried blindly (duplicate pull requests).
type Handler func(ctx context.Context, env *Envelope) error

// Client is a thin AMQP wrapper providing durable, persistent,
// manually-acknowledged delivery with bounded prefetch.
type Client struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	prefetch int
}

// Connect dials the broker, retrying briefly to ride out container
// start-up races, and declares the durable job queue.
func Connect(cfg config.QueueConfig) (*Client, error) {
	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		slog.Warn("Broker not ready, retrying", "attempt", attempt, "error", err)
		time.Sleep(connectBackoff)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to broker after %d attempts: %w", connectAttempts, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting prefetch %d: %w", prefetch, err)
	}

	if _, err := ch.QueueDeclare(JobQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring queue %s: %w", JobQueue, err)
	}

	return &Client{conn: conn, ch: ch, prefetch: prefetch}, nil
}

// Close tears down the channel and connection.
func (c *Client) Close() error {
	if err := c.ch.Close(); err != nil {
		return err
	}
	return c.conn.Close()
}

// Publish enqueues the envelope as a persistent message.
func (c *Client) Publish(ctx context.Context, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope %s: %w", env.ID, err)
	}

	err = c.ch.PublishWithContext(ctx, "", JobQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Type:         env.Task,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing %s task %s: %w", env.Task, env.ID, err)
	}
	slog.Info("Task queued", "task", env.Task, "id", env.ID)
	return nil
}

// Consume pulls deliveries until ctx is cancelled, dispatching each to
// the handler registered for its task name. Unknown task names are
// rejected without re-queue.
func (c *Client) Consume(ctx context.Context, handlers map[string]Handler) error {
	deliveries, err := c.ch.Consume(JobQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("starting consumer on %s: %w", JobQueue, err)
	}

	slog.Info("Worker consuming", "queue", JobQueue, "prefetch", c.prefetch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for %s", JobQueue)
			}
			c.dispatch(ctx, d, handlers)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, d amqp.Delivery, handlers map[string]Handler) {
	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		slog.Error("Unparseable task body, rejecting", "error", err)
		c.reject(d)
		return
	}
	if d.Redelivered {
		env.Retries++
	}

	handler, ok := handlers[env.Task]
	if !ok {
		slog.Error("No handler for task, rejecting", "task", env.Task, "id", env.ID)
		c.reject(d)
		return
	}

	log := slog.With("task", env.Task, "id", env.ID, "retries", env.Retries)
	log.Info("Task started")

	if err := handler(ctx, &env); err != nil {
		log.Error("Task failed", "error", err)
		c.reject(d)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Error("Ack failed", "error", err)
		return
	}
	log.Info("Task completed")
}

// reject negatively acknowledges without re-queue.
func (c *Client) reject(d amqp.Delivery) {
	if err := d.Nack(false, false); err != nil {
		slog.Error("Nack failed", "error", err)
	}
}
