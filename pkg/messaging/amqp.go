// Package messaging publishes session events to an AMQP broker.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"translate-hub/pkg/config"
	"translate-hub/pkg/metrics"
)

const (
	connectTimeout = 5 * time.Second
	maxReconnects  = 10
)

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL          string
	QueueName    string
	ExchangeName string
	RoutingKey   string
	Durable      bool
	AutoDelete   bool
}

// ConfigFrom builds the client configuration from the messaging settings
func ConfigFrom(cfg config.MessagingConfig) AMQPConfig {
	return AMQPConfig{
		URL:          cfg.AMQPUrl,
		QueueName:    cfg.AMQPQueueName,
		ExchangeName: cfg.AMQPExchange,
		RoutingKey:   cfg.AMQPQueueName,
		Durable:      true,
	}
}

// AMQPClient handles the broker connection and message publishing
type AMQPClient struct {
	logger    *logrus.Entry
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPClient creates a new AMQP client
func NewAMQPClient(logger *logrus.Logger, cfg AMQPConfig) *AMQPClient {
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = cfg.QueueName
	}
	return &AMQPClient{
		logger:   logger.WithField("component", "amqp"),
		config:   cfg,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes the connection, declares the queue and, when an
// exchange is configured, declares it and binds the queue to it
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}
	if c.config.URL == "" || c.config.QueueName == "" {
		return fmt.Errorf("AMQP URL or queue name not configured")
	}

	conn, err := amqp.DialConfig(c.config.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(connectTimeout),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if _, err := channel.QueueDeclare(
		c.config.QueueName,
		c.config.Durable,
		c.config.AutoDelete,
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	if c.config.ExchangeName != "" {
		if err := channel.ExchangeDeclare(c.config.ExchangeName, amqp.ExchangeTopic, c.config.Durable, c.config.AutoDelete, false, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return fmt.Errorf("failed to declare AMQP exchange: %w", err)
		}
		if err := channel.QueueBind(c.config.QueueName, c.config.RoutingKey, c.config.ExchangeName, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return fmt.Errorf("failed to bind AMQP queue: %w", err)
		}
	}

	c.conn = conn
	c.channel = channel
	c.connected = true
	c.stopChan = make(chan struct{})
	metrics.SetAMQPConnectionStatus(true)

	c.logger.WithFields(logrus.Fields{
		"queue":    c.config.QueueName,
		"exchange": c.config.ExchangeName,
	}).Info("Connected to AMQP server")

	go c.monitorConnection(conn, c.stopChan)
	return nil
}

// Disconnect closes the AMQP connection
func (c *AMQPClient) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}
	close(c.stopChan)
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.connected = false
	metrics.SetAMQPConnectionStatus(false)
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// Queue returns the configured queue name
func (c *AMQPClient) Queue() string {
	return c.config.QueueName
}

// Publish sends one persistent JSON message
func (c *AMQPClient) Publish(ctx context.Context, body []byte, headers amqp.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	if !c.connected || c.channel == nil {
		return fmt.Errorf("not connected to AMQP server")
	}

	err := c.channel.Publish(
		c.config.ExchangeName,
		c.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Headers:      headers,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Expiration:   "43200000", // 12 hours
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to AMQP: %w", err)
	}
	return nil
}

// monitorConnection reconnects with exponential backoff when the broker
// closes the connection
func (c *AMQPClient) monitorConnection(conn *amqp.Connection, stop chan struct{}) {
	closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-stop:
		return
	case closeErr, ok := <-closeChan:
		if !ok {
			return
		}
		c.connMutex.Lock()
		c.connected = false
		c.connMutex.Unlock()
		metrics.SetAMQPConnectionStatus(false)
		c.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")
	}

	for attempt := 1; attempt <= maxReconnects; attempt++ {
		select {
		case <-stop:
			return
		default:
		}

		err := c.Connect()
		if err == nil {
			c.logger.WithField("attempt", attempt).Info("Reconnected to AMQP server")
			return
		}
		c.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")

		backoff := time.Duration(1<<uint(attempt-1)) * time.Second
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
		time.Sleep(backoff)
	}
}
