package queue

import (
	"context"
	"sync"

	"newspipe/logging"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// RabbitConfig configures the RabbitMQ backend.
type RabbitConfig struct {
	URL         string
	Queue       string
	DLQ         string
	Workers     int
	MaxAttempts int
}

func (c RabbitConfig) dlq() string {
	if c.DLQ == "" {
		return c.Queue + ".dlq"
	}
	return c.DLQ
}

func declare(ch *amqp.Channel, names ...string) error {
	for _, name := range names {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// RabbitProducer publishes jobs and redeliveries to durable queues.
type RabbitProducer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	dlq   string
}

// NewRabbitProducer connects and declares the job and dead-letter queues.
func NewRabbitProducer(cfg RabbitConfig) (*RabbitProducer, error) {
	conn, ch, err := dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := declare(ch, cfg.Queue, cfg.dlq()); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &RabbitProducer{conn: conn, ch: ch, queue: cfg.Queue, dlq: cfg.dlq()}, nil
}

func newPublishing(id string, body []byte, headers amqp.Table) amqp.Publishing {
	return amqp.Publishing{
		MessageId:    id,
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Headers:      headers,
		Body:         body,
	}
}

func (p *RabbitProducer) publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	return p.ch.PublishWithContext(ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		msg,
	)
}

// Publish enqueues body as a first attempt and returns its message id.
func (p *RabbitProducer) Publish(ctx context.Context, body []byte) (string, error) {
	id := uuid.NewString()
	if err := p.publish(ctx, p.queue, newPublishing(id, body, amqp.Table{HeaderAttempt: int32(1)})); err != nil {
		return "", err
	}
	return id, nil
}

// Requeue implements Redeliverer.
func (p *RabbitProducer) Requeue(ctx context.Context, body []byte, attempt int) error {
	return p.publish(ctx, p.queue, newPublishing(uuid.NewString(), body, amqp.Table{HeaderAttempt: int32(attempt)}))
}

// DeadLetter implements Redeliverer.
func (p *RabbitProducer) DeadLetter(ctx context.Context, body []byte, attempt int, reason string) error {
	return p.publish(ctx, p.dlq, newPublishing(uuid.NewString(), body, amqp.Table{
		HeaderAttempt: int32(attempt),
		HeaderError:   reason,
	}))
}

// Close closes the channel and connection.
func (p *RabbitProducer) Close() error {
	p.ch.Close()
	return p.conn.Close()
}

func attemptFromTable(headers amqp.Table) int {
	switch v := headers[HeaderAttempt].(type) {
	case int32:
		return max(int(v), 1)
	case int64:
		return max(int(v), 1)
	case int:
		return max(v, 1)
	case string:
		return parseAttempt(v)
	}
	return 1
}

// RabbitConsumer consumes the job queue with a fixed pool of workers.
type RabbitConsumer struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	workers    int
	dispatcher *Dispatcher
	log        *logging.Entry
}

// NewRabbitConsumer connects and declares the job queue. Failed messages are
// requeued or dead-lettered through out.
func NewRabbitConsumer(cfg RabbitConfig, handler MessageHandler, out Redeliverer) (*RabbitConsumer, error) {
	conn, ch, err := dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := declare(ch, cfg.Queue); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if err := ch.Qos(workers, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &RabbitConsumer{
		conn:       conn,
		ch:         ch,
		queue:      cfg.Queue,
		workers:    workers,
		dispatcher: NewDispatcher(handler, out, cfg.MaxAttempts),
		log:        logging.For("rabbitmq"),
	}, nil
}

// Consume blocks, processing deliveries until ctx is done or the channel closes.
func (c *RabbitConsumer) Consume(ctx context.Context) error {
	msgs, err := c.ch.ConsumeWithContext(ctx,
		c.queue,
		"",    // consumer
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"queue": c.queue, "workers": c.workers}).Info("consuming")

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range msgs {
				err := c.dispatcher.Dispatch(ctx, Delivery{
					ID:      msg.MessageId,
					Body:    msg.Body,
					Attempt: attemptFromTable(msg.Headers),
				})
				if err != nil {
					c.log.WithError(err).Error("redelivery_failed")
					msg.Nack(false, true)
					continue
				}
				msg.Ack(false)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close closes the channel and connection.
func (c *RabbitConsumer) Close() error {
	c.ch.Close()
	return c.conn.Close()
}
