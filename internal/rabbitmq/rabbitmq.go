package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"keywords/internal/config"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

type Client interface {
	Close() error

	DeclareExchange(name, kind string) error
	DeclareQueue(name string) (amqp.Queue, error)
	BindQueue(queueName, exchangeName, routingKey string) error

	Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error
	Consume(queueName string, consumerTag string) (*Subscription, error)

	Health() error
}

type client struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	config       config.RabbitMQConfig
	mu           sync.Mutex
	reconnecting bool
	notifyClose  chan *amqp.Error
}

// Subscription is one consumer on its own channel. When the channel is
// transacted, acks and nacks only take effect on Commit.
type Subscription struct {
	Deliveries <-chan amqp.Delivery
	channel    *amqp.Channel
	transacted bool
}

func (s *Subscription) Commit() error {
	if !s.transacted {
		return nil
	}
	return s.channel.TxCommit()
}

func (s *Subscription) Rollback() error {
	if !s.transacted {
		return nil
	}
	return s.channel.TxRollback()
}

func (s *Subscription) Close() error {
	return s.channel.Close()
}

func NewClientFromConfig(cfg config.RabbitMQConfig) (Client, error) {
	c := &client{
		config:       cfg,
		reconnecting: false,
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	// Setup reconnection handling
	c.setupReconnect()

	return c, nil
}

func (c *client) connect() error {
	amqpURL := fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		c.config.Username,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	conn, err := amqp.DialConfig(amqpURL, amqp.Config{
		Heartbeat: 30 * time.Second, // Set heartbeat interval
		Locale:    "en_US",
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to RabbitMQ")
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open RabbitMQ channel")
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	c.conn = conn
	c.channel = ch

	log.Info().
		Str("host", c.config.Host).
		Int("port", c.config.Port).
		Str("vhost", c.config.VHost).
		Msg("RabbitMQ connection established")

	return nil
}

// ensureConnected must be called with c.mu held
func (c *client) ensureConnected() error {
	if c.conn == nil || c.channel == nil || c.conn.IsClosed() {
		if err := c.connect(); err != nil {
			return err
		}

		// Re-setup the reconnect hooks
		c.setupReconnect()
	}
	return nil
}

func (c *client) setupReconnect() {
	c.notifyClose = c.conn.NotifyClose(make(chan *amqp.Error, 1))

	// Start a goroutine to handle connection failures
	go func(notify chan *amqp.Error) {
		for err := range notify {
			log.Warn().
				Str("reason", err.Reason).
				Int("code", err.Code).
				Bool("recover", err.Recover).
				Msg("RabbitMQ connection closed, attempting to reconnect...")

			// Begin reconnection attempts
			c.doReconnect()
		}
	}(c.notifyClose)
}

func (c *client) doReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reconnecting {
		return
	}

	c.reconnecting = true
	defer func() { c.reconnecting = false }()

	// Close existing resources if they're still open
	if c.channel != nil {
		c.channel.Close()
	}

	if c.conn != nil && !c.conn.IsClosed() {
		c.conn.Close()
	}

	// Attempt reconnection with backoff
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		log.Info().Dur("backoff", backoff).Msg("Attempting to reconnect to RabbitMQ")

		if err := c.connect(); err != nil {
			log.Error().Err(err).Msg("Failed to reconnect to RabbitMQ")

			// Exponential backoff with cap
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.setupReconnect()

		log.Info().Msg("Successfully reconnected to RabbitMQ")
		return
	}
}

func (c *client) Health() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.channel == nil {
		log.Error().Msg("RabbitMQ health check failed: nil connection or channel")
		return fmt.Errorf("nil connection or channel")
	}

	if c.conn.IsClosed() {
		log.Error().Msg("RabbitMQ connection is closed")
		return fmt.Errorf("connection is closed")
	}

	// Passive declare fails (and closes the channel) when the exchange is missing
	err := c.channel.ExchangeDeclarePassive(
		c.config.ExchangeName,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)

	if err != nil {
		log.Error().Err(err).Msg("RabbitMQ health check failed on passive exchange declare")
		return err
	}

	log.Debug().Msg("RabbitMQ is healthy")
	return nil
}

func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			log.Error().Err(err).Msg("Failed to close RabbitMQ channel")
			return fmt.Errorf("channel close error: %w", err)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			log.Error().Err(err).Msg("Failed to close RabbitMQ connection")
			return fmt.Errorf("connection close error: %w", err)
		}
	}

	log.Info().Msg("RabbitMQ connection and channel closed")
	return nil
}

func (c *client) Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return fmt.Errorf("failed to reconnect before publishing: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // Make messages persistent
		Body:         body,
		Headers:      headers,
	}

	err := c.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		log.Error().
			Err(err).
			Str("exchange", exchange).
			Str("routingKey", routingKey).
			Msg("Failed to publish message")

		// If publish fails due to connection issues, try to reconnect once and retry
		if errors.Is(err, amqp.ErrClosed) {
			if err := c.connect(); err == nil {
				c.setupReconnect()

				retryErr := c.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
				if retryErr == nil {
					log.Info().
						Str("exchange", exchange).
						Str("routingKey", routingKey).
						Int("size", len(body)).
						Msg("Published message after reconnection")
					return nil
				}
			}
		}

		return err
	}

	log.Info().
		Str("exchange", exchange).
		Str("routingKey", routingKey).
		Int("size", len(body)).
		Msg("Published message")

	return nil
}

func (c *client) Consume(queueName string, consumerTag string) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return nil, fmt.Errorf("failed to reconnect before consuming: %w", err)
	}

	// Each consumer gets its own channel so its transaction covers only its deliveries
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}

	if c.config.PrefetchCount > 0 {
		if err := ch.Qos(c.config.PrefetchCount, 0, false); err != nil {
			log.Error().Err(err).Msg("Failed to set channel QoS")
			ch.Close()
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	if c.config.Transacted {
		if err := ch.Tx(); err != nil {
			log.Error().Err(err).Msg("Failed to put consumer channel in transaction mode")
			ch.Close()
			return nil, fmt.Errorf("failed to start transaction: %w", err)
		}
	}

	deliveries, err := ch.Consume(
		queueName,   // queue
		consumerTag, // consumer
		false,       // auto-ack (important: set to false for manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)

	if err != nil {
		log.Error().
			Err(err).
			Str("queue", queueName).
			Str("consumerTag", consumerTag).
			Msg("Failed to start consuming")
		ch.Close()
		return nil, fmt.Errorf("consume error: %w", err)
	}

	log.Info().
		Str("queue", queueName).
		Str("consumerTag", consumerTag).
		Bool("transacted", c.config.Transacted).
		Msg("Started consuming messages")

	return &Subscription{
		Deliveries: deliveries,
		channel:    ch,
		transacted: c.config.Transacted,
	}, nil
}

func (c *client) DeclareExchange(name, kind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return fmt.Errorf("failed to reconnect before declaring exchange: %w", err)
	}

	err := c.channel.ExchangeDeclare(
		name,  // name
		kind,  // type
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		log.Error().Err(err).Str("exchange", name).Msg("Failed to declare exchange")
	} else {
		log.Info().Str("exchange", name).Str("type", kind).Msg("Declared exchange")
	}
	return err
}

func (c *client) DeclareQueue(name string) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to reconnect before declaring queue: %w", err)
	}

	queue, err := c.channel.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		log.Error().Err(err).Str("queue", name).Msg("Failed to declare queue")
	} else {
		log.Info().Str("queue", name).Msg("Declared queue")
	}
	return queue, err
}

func (c *client) BindQueue(queueName, exchangeName, routingKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return fmt.Errorf("failed to reconnect before binding queue: %w", err)
	}

	err := c.channel.QueueBind(
		queueName,    // queue name
		routingKey,   // routing key
		exchangeName, // exchange
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("queue", queueName).
			Str("exchange", exchangeName).
			Str("routingKey", routingKey).
			Msg("Failed to bind queue")
	} else {
		log.Info().
			Str("queue", queueName).
			Str("exchange", exchangeName).
			Str("routingKey", routingKey).
			Msg("Bound queue to exchange")
	}
	return err
}

// DeclareTopology declares the topic exchange and durable queue and binds
// them with the configured wildcard key. Producers and consumers both call it.
func DeclareTopology(c Client, cfg config.RabbitMQConfig) error {
	if err := c.DeclareExchange(cfg.ExchangeName, amqp.ExchangeTopic); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := c.DeclareQueue(cfg.QueueName); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", cfg.QueueName, err)
	}

	if err := c.BindQueue(cfg.QueueName, cfg.ExchangeName, cfg.BindingKey); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", cfg.QueueName, err)
	}

	return nil
}
