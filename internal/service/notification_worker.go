package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"friendserver/internal/logger"
	"friendserver/internal/monitoring"
	"friendserver/internal/protocol"
	"friendserver/internal/session"
	"friendserver/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const NotificationExchange = "friends_notification_exchange"

const (
	relayRetryDelay    = time.Second
	maxRelayRetryDelay = 30 * time.Second
)

// RelayMessage is the RabbitMQ body for a notification addressed to a user
// who is not connected to the publishing instance.
type RelayMessage struct {
	Origin    string    `json:"origin"`
	Username  string    `json:"username"`
	Tag       uint16    `json:"tag"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationWorker publishes notifications to a fanout exchange and
// delivers the ones other instances published to users connected here.
type NotificationWorker struct {
	rabbitMQ   *util.RabbitMQClient
	presence   session.Presence
	instanceID string
	stopChan   chan struct{}

	subscribe  func() (<-chan amqp.Delivery, error)
	retryDelay time.Duration
}

func NewNotificationWorker(rabbitMQ *util.RabbitMQClient, presence session.Presence, instanceID string) *NotificationWorker {
	w := &NotificationWorker{
		rabbitMQ:   rabbitMQ,
		presence:   presence,
		instanceID: instanceID,
		stopChan:   make(chan struct{}),
		retryDelay: relayRetryDelay,
	}
	w.subscribe = w.declareAndConsume
	return w
}

// Publish implements Relay.
func (w *NotificationWorker) Publish(ctx context.Context, username string, msg *protocol.Message) error {
	body, err := json.Marshal(RelayMessage{
		Origin:    w.instanceID,
		Username:  username,
		Tag:       uint16(msg.Tag),
		Payload:   msg.Payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	return w.rabbitMQ.Publish(ctx, NotificationExchange, "", body)
}

// Start declares the exchange and a private queue for this instance and
// begins consuming. If the delivery channel closes, the worker subscribes
// again with backoff until Stop is called.
func (w *NotificationWorker) Start() error {
	msgs, err := w.subscribe()
	if err != nil {
		return err
	}
	go w.consume(msgs)
	return nil
}

func (w *NotificationWorker) declareAndConsume() (<-chan amqp.Delivery, error) {
	channel, err := w.rabbitMQ.GetChannel()
	if err != nil {
		return nil, err
	}

	if err := channel.ExchangeDeclare(
		NotificationExchange,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	// Server-named, exclusive queue: each instance sees every message.
	queue, err := channel.QueueDeclare(
		"",
		false,
		true,
		true,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := channel.QueueBind(queue.Name, "", NotificationExchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	msgs, err := channel.Consume(
		queue.Name,
		"friends_relay_"+w.instanceID,
		false, // auto-ack
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return msgs, nil
}

func (w *NotificationWorker) consume(msgs <-chan amqp.Delivery) {
	logger.Log.Info("notification relay started", zap.String("instance", w.instanceID))
	for {
		select {
		case <-w.stopChan:
			logger.Log.Info("notification relay stopped")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Log.Warn("notification relay queue closed, resubscribing")
				if msgs = w.resubscribe(); msgs == nil {
					logger.Log.Info("notification relay stopped")
					return
				}
				continue
			}
			if err := w.processRelayMessage(msg.Body); err != nil {
				logger.Log.Warn("dropping relay message", zap.Error(err))
			}
			if err := msg.Ack(false); err != nil {
				logger.Log.Debug("relay ack failed", zap.Error(err))
			}
		}
	}
}

// resubscribe retries subscribe with doubling delay. It returns nil once
// the worker is stopped.
func (w *NotificationWorker) resubscribe() <-chan amqp.Delivery {
	delay := w.retryDelay
	for {
		select {
		case <-w.stopChan:
			return nil
		case <-time.After(delay):
		}

		msgs, err := w.subscribe()
		if err == nil {
			logger.Log.Info("notification relay resubscribed", zap.String("instance", w.instanceID))
			return msgs
		}
		logger.Log.Warn("notification relay resubscribe failed",
			zap.Duration("retry_in", delay),
			zap.Error(err))
		if delay *= 2; delay > maxRelayRetryDelay {
			delay = maxRelayRetryDelay
		}
	}
}

// processRelayMessage delivers body if its recipient is connected here.
// Messages this instance published are skipped: local delivery was
// already attempted before publishing.
func (w *NotificationWorker) processRelayMessage(body []byte) error {
	var relayMsg RelayMessage
	if err := json.Unmarshal(body, &relayMsg); err != nil {
		return err
	}
	if relayMsg.Origin == w.instanceID {
		return nil
	}

	conn, ok := w.presence.ConnectionOf(relayMsg.Username)
	if !ok {
		return nil
	}
	msg := &protocol.Message{Tag: protocol.Tag(relayMsg.Tag), Payload: relayMsg.Payload}
	if err := conn.Send(msg); err != nil {
		return fmt.Errorf("deliver to %s: %w", relayMsg.Username, err)
	}
	monitoring.Notifications.WithLabelValues(msg.Tag.String(), "relayed_in").Inc()
	return nil
}

func (w *NotificationWorker) Stop() {
	close(w.stopChan)
}
