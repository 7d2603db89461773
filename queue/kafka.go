package queue

import (
	"context"
	"errors"
	"strconv"

	"newspipe/logging"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// KafkaConfig holds Kafka producer and consumer configuration.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	DLQTopic    string
	MaxAttempts int
}

func newSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	return cfg
}

// KafkaProducer publishes jobs, requeues retries and writes the dead-letter topic.
type KafkaProducer struct {
	producer sarama.SyncProducer
	topic    string
	dlqTopic string
}

// NewKafkaProducer connects a synchronous producer to cfg.Brokers.
func NewKafkaProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	p, err := sarama.NewSyncProducer(cfg.Brokers, newSaramaConfig())
	if err != nil {
		return nil, err
	}
	return NewKafkaProducerWith(p, cfg.Topic, cfg.DLQTopic), nil
}

// NewKafkaProducerWith wraps an existing producer.
func NewKafkaProducerWith(p sarama.SyncProducer, topic, dlqTopic string) *KafkaProducer {
	if dlqTopic == "" {
		dlqTopic = topic + ".dlq"
	}
	return &KafkaProducer{producer: p, topic: topic, dlqTopic: dlqTopic}
}

func (p *KafkaProducer) send(topic, id string, body []byte, headers ...sarama.RecordHeader) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(id),
		Value:   sarama.ByteEncoder(body),
		Headers: headers,
	})
	return err
}

func attemptHeader(attempt int) sarama.RecordHeader {
	return sarama.RecordHeader{Key: []byte(HeaderAttempt), Value: []byte(strconv.Itoa(attempt))}
}

// Publish enqueues body as a first attempt and returns the message key.
func (p *KafkaProducer) Publish(ctx context.Context, body []byte) (string, error) {
	id := uuid.NewString()
	if err := p.send(p.topic, id, body, attemptHeader(1)); err != nil {
		return "", err
	}
	return id, nil
}

// Requeue implements Redeliverer.
func (p *KafkaProducer) Requeue(ctx context.Context, body []byte, attempt int) error {
	return p.send(p.topic, uuid.NewString(), body, attemptHeader(attempt))
}

// DeadLetter implements Redeliverer.
func (p *KafkaProducer) DeadLetter(ctx context.Context, body []byte, attempt int, reason string) error {
	return p.send(p.dlqTopic, uuid.NewString(), body,
		attemptHeader(attempt),
		sarama.RecordHeader{Key: []byte(HeaderError), Value: []byte(reason)})
}

// Close closes the producer.
func (p *KafkaProducer) Close() error { return p.producer.Close() }

func attemptFromHeaders(headers []*sarama.RecordHeader) int {
	for _, h := range headers {
		if h != nil && string(h.Key) == HeaderAttempt {
			return parseAttempt(string(h.Value))
		}
	}
	return 1
}

// KafkaConsumer consumes the job topic as part of a consumer group.
type KafkaConsumer struct {
	consumer   sarama.ConsumerGroup
	dispatcher *Dispatcher
	topic      string
	groupID    string
	ready      chan bool
	log        *logging.Entry
}

// NewKafkaConsumer joins cfg.GroupID. Failed messages are requeued or dead-lettered
// through out.
func NewKafkaConsumer(cfg KafkaConfig, handler MessageHandler, out Redeliverer) (*KafkaConsumer, error) {
	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, newSaramaConfig())
	if err != nil {
		return nil, err
	}
	return &KafkaConsumer{
		consumer:   client,
		dispatcher: NewDispatcher(handler, out, cfg.MaxAttempts),
		topic:      cfg.Topic,
		groupID:    cfg.GroupID,
		ready:      make(chan bool),
		log:        logging.For("kafka"),
	}, nil
}

// Start begins consuming in the background and returns once the first session is set up.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	handler := &consumerGroupHandler{dispatcher: c.dispatcher, ready: c.ready, log: c.log}

	go func() {
		for {
			if err := c.consumer.Consume(ctx, []string{c.topic}, handler); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.log.WithError(err).Error("consume_failed")
			}
			if ctx.Err() != nil {
				return
			}
			handler.ready = make(chan bool)
		}
	}()

	go func() {
		for err := range c.consumer.Errors() {
			c.log.WithError(err).Error("consumer_error")
		}
	}()

	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.log.WithFields(logrus.Fields{"group": c.groupID, "topic": c.topic}).Info("consumer_started")
	return nil
}

// Close leaves the consumer group.
func (c *KafkaConsumer) Close() error {
	c.log.Info("closing_consumer")
	return c.consumer.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler.
type consumerGroupHandler struct {
	dispatcher *Dispatcher
	ready      chan bool
	log        *logging.Entry
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages in offset order. When a message can be neither
// processed nor redelivered the session ends without marking it, so it is
// consumed again after the rebalance.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			h.log.WithFields(logrus.Fields{
				"partition": message.Partition,
				"offset":    message.Offset,
				"key":       string(message.Key),
			}).Debug("message_received")

			err := h.dispatcher.Dispatch(session.Context(), Delivery{
				ID:      string(message.Key),
				Body:    message.Value,
				Attempt: attemptFromHeaders(message.Headers),
			})
			if err != nil {
				h.log.WithError(err).Error("redelivery_failed")
				return err
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
