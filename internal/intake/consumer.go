package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	logx "notifyrelay/pkg/logx"
)

type Config struct {
	URL       string
	Queue     string
	Prefetch  int
	Heartbeat time.Duration
	// HandleTimeout bounds one Notify call per delivery.
	HandleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Queue == "" {
		c.Queue = "notifications"
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 16
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 10 * time.Second
	}
	if c.HandleTimeout <= 0 {
		c.HandleTimeout = 30 * time.Second
	}
	return c
}

// Consumer holds one AMQP session per Run call. Run returns when the
// connection drops so the caller's restart policy decides the backoff.
type Consumer struct {
	cfg     Config
	handler Handler
	log     logx.Logger
}

func NewConsumer(cfg Config, h Handler, log logx.Logger) (*Consumer, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("intake: url required")
	}
	if h.Notifier == nil {
		return nil, errors.New("intake: notifier required")
	}
	log = log.With(logx.String("comp", "intake"))
	h.Log = log
	return &Consumer{cfg: cfg.withDefaults(), handler: h, log: log}, nil
}

// DeadLetterQueue names the queue rejected messages land in.
func DeadLetterQueue(queue string) string { return queue + ".dlq" }

// declare creates the DLQ and the main queue routed to it.
func declare(ch *amqp.Channel, queue string) error {
	dlq := DeadLetterQueue(queue)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", dlq, err)
	}
	_, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	})
	if err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	return nil
}

// Run consumes until ctx ends (nil) or the connection is lost (error).
func (c *Consumer) Run(ctx context.Context) error {
	conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{Heartbeat: c.cfg.Heartbeat})
	if err != nil {
		return fmt.Errorf("intake: dial %s: %w", maskURL(c.cfg.URL), err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("intake: open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("intake: qos: %w", err)
	}
	if err := declare(ch, c.cfg.Queue); err != nil {
		return fmt.Errorf("intake: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("intake: consume: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.log.Info("consuming", logx.String("queue", c.cfg.Queue), logx.String("url", maskURL(c.cfg.URL)))
	for {
		select {
		case <-ctx.Done():
			return nil
		case aerr := <-closed:
			if aerr == nil {
				return errors.New("intake: connection closed")
			}
			return fmt.Errorf("intake: connection closed: %w", aerr)
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("intake: delivery channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandleTimeout)
	v := c.handler.Handle(hctx, d.Body, d.Redelivered)
	cancel()

	var err error
	switch v {
	case Ack:
		err = d.Ack(false)
	case Reject:
		err = d.Nack(false, false)
	default:
		err = d.Nack(false, true)
	}
	if err != nil {
		c.log.Warn("settle failed", logx.String("verdict", v.String()), logx.Err(err))
	}
}

// Publish sends one JSON request to queue, declaring it first. Used by tooling.
func Publish(ctx context.Context, url, queue string, body []byte) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("intake: dial %s: %w", maskURL(url), err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("intake: open channel: %w", err)
	}
	defer ch.Close()
	if err := declare(ch, queue); err != nil {
		return fmt.Errorf("intake: %w", err)
	}
	return ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func maskURL(u string) string {
	at := strings.LastIndex(u, "@")
	scheme := strings.Index(u, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return u
	}
	return u[:scheme+3] + "***" + u[at:]
}
