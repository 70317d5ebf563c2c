// Package amqpinvoke dispatches downloads to workers through an AMQP broker.
package amqpinvoke

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/vod_pipeline/internal/invoke"
	"github.com/italolelis/vod_pipeline/internal/logctx"
	"github.com/italolelis/vod_pipeline/internal/storage"
	amqp "github.com/rabbitmq/amqp091-go"
)

const driverName = "amqp"

// Client publishes dispatch messages to a durable queue. Workers consume the
// queue and report back through the notification endpoint.
type Client struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
}

// NewClient connects to the broker and declares the dispatch queue. An empty
// exchange publishes through the default exchange straight to the queue.
func NewClient(url, exchange, queue string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()

		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()

			return nil, fmt.Errorf("failed to declare exchange: %w", err)
		}
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()

		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if exchange != "" {
		if err := ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()

			return nil, fmt.Errorf("failed to bind queue: %w", err)
		}
	}

	return &Client{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		queue:    queue,
	}, nil
}

// Dispatch publishes the record as a persistent message keyed by the queue
// name.
func (c *Client) Dispatch(ctx context.Context, rec storage.DownloadRecord) error {
	logger := logctx.LoggerFromContext(ctx)

	body, err := json.Marshal(invoke.Message{FileID: rec.FileID, Attempt: rec.RetryCount})
	if err != nil {
		return &invoke.DispatchError{Driver: driverName, FileID: rec.FileID, Err: err}
	}

	err = c.ch.PublishWithContext(ctx, c.exchange, c.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return &invoke.DispatchError{Driver: driverName, FileID: rec.FileID, Err: err}
	}

	logger.DebugContext(ctx, "published dispatch message", "file_id", rec.FileID, "queue", c.queue)

	return nil
}

func (c *Client) Driver() string {
	return driverName
}

// Close releases the channel and the connection.
func (c *Client) Close() error {
	if err := c.ch.Close(); err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}

	return c.conn.Close()
}
