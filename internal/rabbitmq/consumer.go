package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"keywords/internal/config"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler processes one delivery. A non-nil error triggers redelivery.
type Handler func(ctx context.Context, delivery amqp.Delivery) error

// Attempted is implemented by handler errors that carry the handler's own
// attempt count. The consumer retries by that count instead of its own.
type Attempted interface {
	error
	Attempt() int
}

// ExhaustedHandler is told about a delivery right before it is dropped
type ExhaustedHandler func(ctx context.Context, delivery amqp.Delivery, err error)

// RetryPolicy bounds redelivery of a failing message
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

func PolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval(),
		Multiplier:      cfg.Multiplier,
		MaxInterval:     cfg.MaxInterval(),
	}
}

// Backoff is the wait after the given failed attempt (1-based)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.InitialInterval <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.InitialInterval)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if p.MaxInterval > 0 && delay >= float64(p.MaxInterval) {
			return p.MaxInterval
		}
	}

	if p.MaxInterval > 0 && time.Duration(delay) > p.MaxInterval {
		return p.MaxInterval
	}
	return time.Duration(delay)
}

// txn is the part of a Subscription the dispatcher needs
type txn interface {
	Commit() error
	Rollback() error
}

// Consumer feeds deliveries from one queue into a Handler, one at a time
type Consumer struct {
	client      Client
	queueName   string
	consumerTag string
	policy      RetryPolicy
	handler     Handler
	onExhausted ExhaustedHandler

	reconnectDelay time.Duration
	wg             sync.WaitGroup
}

func NewConsumer(client Client, queueName string, policy RetryPolicy, handler Handler) *Consumer {
	return &Consumer{
		client:         client,
		queueName:      queueName,
		consumerTag:    fmt.Sprintf("keyword-consumer-%s", uuid.NewString()),
		policy:         policy,
		handler:        handler,
		reconnectDelay: 5 * time.Second,
	}
}

// OnExhausted registers a hook run for messages whose retries are used up
func (c *Consumer) OnExhausted(h ExhaustedHandler) *Consumer {
	c.onExhausted = h
	return c
}

// Start consumes in the background until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		log.Info().
			Str("queue", c.queueName).
			Str("consumerTag", c.consumerTag).
			Msg("Starting job consumer")

		for {
			if ctx.Err() != nil {
				log.Info().
					Str("consumerTag", c.consumerTag).
					Msg("Context cancelled, stopping consumer")
				return
			}

			sub, err := c.client.Consume(c.queueName, c.consumerTag)
			if err != nil {
				log.Error().
					Err(err).
					Str("queue", c.queueName).
					Str("consumerTag", c.consumerTag).
					Msg("Failed to consume from queue")

				// Wait before retrying
				if sleepCtx(ctx, c.reconnectDelay) != nil {
					return
				}
				continue
			}

			c.drain(ctx, sub)
			sub.Close()

			if ctx.Err() != nil {
				return
			}

			// If we reach here, the channel was closed
			log.Warn().
				Str("queue", c.queueName).
				Str("consumerTag", c.consumerTag).
				Msg("Consumer channel closed, reconnecting...")

			// Wait before reconnecting
			if sleepCtx(ctx, c.reconnectDelay) != nil {
				return
			}
		}
	}()
}

func (c *Consumer) drain(ctx context.Context, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-sub.Deliveries:
			if !ok {
				return
			}
			c.dispatch(ctx, sub, delivery)
		}
	}
}

// Wait blocks until the consumer goroutine has exited
func (c *Consumer) Wait() {
	c.wg.Wait()
	log.Info().Str("consumerTag", c.consumerTag).Msg("Job consumer stopped")
}

// dispatch runs the handler with in-process redelivery. Exhausted messages
// are dropped; messages interrupted by shutdown go back to the queue.
func (c *Consumer) dispatch(ctx context.Context, tx txn, delivery amqp.Delivery) {
	logger := log.With().
		Str("queue", c.queueName).
		Uint64("deliveryTag", delivery.DeliveryTag).
		Logger()

	for attempt := 1; ; attempt++ {
		err := c.invoke(ctx, delivery)
		if err == nil {
			settle(tx, delivery.Ack(false), logger)
			return
		}

		if ctx.Err() != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Shutting down, returning message to queue")
			settle(tx, delivery.Nack(false, true), logger)
			return
		}

		count := attempt
		var counted Attempted
		if errors.As(err, &counted) {
			count = counted.Attempt()
		}

		if count >= c.policy.MaxAttempts {
			logger.Error().Err(err).Int("attempt", count).Msg("Retries exhausted, dropping message")
			if c.onExhausted != nil {
				c.onExhausted(ctx, delivery, err)
			}
			settle(tx, delivery.Nack(false, false), logger)
			return
		}

		wait := c.policy.Backoff(count)
		logger.Warn().Err(err).Int("attempt", count).Dur("backoff", wait).Msg("Message handling failed, retrying")

		if sleepCtx(ctx, wait) != nil {
			settle(tx, delivery.Nack(false, true), logger)
			return
		}
	}
}

func (c *Consumer) invoke(ctx context.Context, delivery amqp.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, delivery)
}

func settle(tx txn, ackErr error, logger zerolog.Logger) {
	if ackErr != nil {
		logger.Error().Err(ackErr).Msg("Failed to settle delivery")
		if err := tx.Rollback(); err != nil {
			logger.Error().Err(err).Msg("Failed to roll back consumer transaction")
		}
		return
	}

	if err := tx.Commit(); err != nil {
		logger.Error().Err(err).Msg("Failed to commit consumer transaction")
	}
}

// sleepCtx waits for d or returns early when ctx is cancelled
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
