package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/carepay/benefit-wallet/generic"
	"github.com/carepay/benefit-wallet/payments"
)

var rejectedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "benefit_wallet",
	Name:      "mq_rejected_messages_total",
	Help:      "Messages rejected without requeue after a permanent handler failure.",
}, []string{"routing_key"})

type ConsumerConfig struct {
	URL      string
	Exchange string
	Queue    string
	Prefetch int

	// DLX receives rejected messages, DLQ holds them. Empty DLX drops them.
	DLX string
	DLQ string
}

// PaymentConsumer routes payment.paid messages to the lifecycle of the
// payment's service type. A retryable handler failure Nacks with requeue;
// any other failure is rejected to the dead-letter exchange. A message that
// cannot be decoded is dropped.
type PaymentConsumer struct {
	cfg       ConsumerConfig
	listeners map[generic.ServiceType]generic.PaymentListener
	log       *zap.Logger

	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPaymentConsumer(cfg ConsumerConfig, log *zap.Logger) *PaymentConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 8
	}
	return &PaymentConsumer{
		cfg:       cfg,
		listeners: make(map[generic.ServiceType]generic.PaymentListener),
		log:       log,
	}
}

// Route registers the listener for one service type.
func (c *PaymentConsumer) Route(t generic.ServiceType, l generic.PaymentListener) {
	c.listeners[t] = l
}

func (c *PaymentConsumer) Connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	args := amqp.Table{}
	if c.cfg.DLX != "" {
		args["x-dead-letter-exchange"] = c.cfg.DLX
		if err := c.declareDeadLetter(ch); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return err
		}
	}
	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, args)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, payments.RoutingPaymentPaid, c.cfg.Exchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("bind %s: %w", payments.RoutingPaymentPaid, err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	c.conn = conn
	c.ch = ch
	return nil
}

func (c *PaymentConsumer) declareDeadLetter(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(c.cfg.DLX, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx: %w", err)
	}
	dlq := c.cfg.DLQ
	if dlq == "" {
		dlq = c.cfg.Queue + ".dlq"
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq: %w", err)
	}
	if err := ch.QueueBind(dlq, "#", c.cfg.DLX, false, nil); err != nil {
		return fmt.Errorf("bind dlq: %w", err)
	}
	return nil
}

func (c *PaymentConsumer) Run(ctx context.Context) error {
	msgs, err := c.ch.ConsumeWithContext(ctx, c.cfg.Queue, "benefit-wallet", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			c.process(ctx, d, d.RoutingKey, d.Body)
		}
	}
}

// acknowledger is the part of amqp.Delivery that settles a message.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// process handles one delivery and settles it. Only retryable failures
// go back on the queue.
func (c *PaymentConsumer) process(ctx context.Context, d acknowledger, key string, body []byte) {
	err := c.Handle(ctx, key, body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case generic.IsRetryable(err):
		c.log.Warn("payment message failed, requeueing",
			zap.String("routing_key", key), zap.Error(err))
		_ = d.Nack(false, true)
	default:
		rejectedMessages.WithLabelValues(key).Inc()
		c.log.Error("payment message failed permanently, rejecting",
			zap.String("routing_key", key),
			zap.Bool("dead_lettered", c.cfg.DLX != ""),
			zap.Error(err))
		_ = d.Nack(false, false)
	}
}

// Handle processes one message body. Unknown keys, undecodable bodies and
// service types without a listener are logged and acknowledged.
func (c *PaymentConsumer) Handle(ctx context.Context, key string, body []byte) error {
	if key != payments.RoutingPaymentPaid {
		c.log.Debug("skip unknown routing key", zap.String("routing_key", key))
		return nil
	}
	var evt payments.PaidEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		c.log.Error("drop undecodable payment.paid", zap.Error(err))
		return nil
	}
	l, ok := c.listeners[evt.ServiceType]
	if !ok {
		c.log.Warn("no listener for service type",
			zap.String("service_type", string(evt.ServiceType)),
			zap.String("payment_id", string(evt.PaymentID)))
		return nil
	}
	paidAt := evt.PaidAt
	return l.OnPaymentCompleted(ctx, generic.Payment{
		PaymentID:   evt.PaymentID,
		UserID:      evt.UserID,
		Amount:      evt.Amount,
		ServiceType: evt.ServiceType,
		ServiceID:   evt.ServiceID,
		Status:      generic.PaymentCompleted,
		Method:      evt.Method,
		PaidAt:      &paidAt,
	})
}

func (c *PaymentConsumer) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
