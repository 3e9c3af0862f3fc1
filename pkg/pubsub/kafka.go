package pubsub

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"

	applog "github.com/ICShapy/shapy/pkg/log"
)

const (
	kafkaPollMs            = 200
	kafkaWatermarkMs       = 5000
	kafkaAssignTimeout     = 15 * time.Second
	kafkaDefaultTopic      = "scene-events"
	kafkaDefaultGroupID    = "edit-service"
	kafkaDefaultPartitions = 4
)

// channelToTopicAndKey maps a scene channel onto the shared topic, keyed by
// scene ID so one scene always lands on one partition.
//
//	"scene:42:chan" → topic: "scene-events", key: "42"
func (k *KafkaPubSub) channelToTopicAndKey(channel string) (topic, key string, err error) {
	sceneID, err := SceneFromChannel(channel)
	if err != nil {
		return "", "", err
	}
	return k.topic, sceneID, nil
}

// KafkaPubSub implements PubSub using Apache Kafka. It does not implement
// SequencedPublisher; callers stamp sequence numbers before Publish.
type KafkaPubSub struct {
	producer      *kafka.Producer
	subscriptions map[*kafkaSubscription]struct{}
	config        KafkaConfig
	topic         string
	closed        bool
	mu            sync.Mutex
	doneCh        chan struct{}
}

// NewKafkaPubSub creates a new Kafka-based PubSub instance.
func NewKafkaPubSub(cfg KafkaConfig) (*KafkaPubSub, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":                     cfg.Brokers,
		"acks":                                  "all",
		"linger.ms":                             1,
		"compression.type":                      "snappy",
		"enable.idempotence":                    true,
		"max.in.flight.requests.per.connection": 5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	topic := cfg.Topic
	if topic == "" {
		topic = kafkaDefaultTopic
	}

	kps := &KafkaPubSub{
		producer:      p,
		subscriptions: make(map[*kafkaSubscription]struct{}),
		config:        cfg,
		topic:         topic,
		doneCh:        make(chan struct{}),
	}

	go kps.eventHandler()

	if err := kps.ensureTopic(); err != nil {
		l := applog.L()
		l.Warn().Err(err).Str("topic", topic).Msg("failed to ensure kafka topic (may already exist)")
	}

	return kps, nil
}

// ensureTopic creates the scene topic if it doesn't exist.
func (k *KafkaPubSub) ensureTopic() error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = kafkaDefaultPartitions
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             k.topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %w", r.Topic, r.Error)
		}
	}
	return nil
}

// eventHandler drains producer-level events. Delivery reports go to the
// per-message channels passed to Produce.
func (k *KafkaPubSub) eventHandler() {
	for e := range k.producer.Events() {
		if ev, ok := e.(kafka.Error); ok {
			l := applog.L()
			l.Error().Err(ev).Bool("fatal", ev.IsFatal()).Msg("kafka producer error")
		}
	}
	close(k.doneCh)
}

// Publish produces a payload and waits for the broker acknowledgement.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	topic, key, err := k.channelToTopicAndKey(channel)
	if err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}

	k.mu.Lock()
	closed := k.closed
	k.mu.Unlock()
	if closed {
		return ErrClosed
	}

	delivery := make(chan kafka.Event, 1)
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: payload,
	}, delivery)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case e := <-delivery:
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("kafka delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe joins a fresh consumer group so every subscriber sees every
// message, then waits until partitions are assigned at their current high
// watermark before returning.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	topic, key, err := k.channelToTopicAndKey(channel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel: %w", err)
	}

	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil, ErrClosed
	}
	k.mu.Unlock()

	groupID := k.config.GroupID
	if groupID == "" {
		groupID = kafkaDefaultGroupID
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  k.config.Brokers,
		"group.id":           fmt.Sprintf("%s-%s-%s", groupID, sanitizeGroupID(key), uuid.NewString()),
		"auto.offset.reset":  "latest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	ready := make(chan error, 1)
	var readyOnce sync.Once
	signal := func(err error) {
		readyOnce.Do(func() { ready <- err })
	}

	rebalance := func(c *kafka.Consumer, ev kafka.Event) error {
		switch e := ev.(type) {
		case kafka.AssignedPartitions:
			parts := make([]kafka.TopicPartition, 0, len(e.Partitions))
			for _, tp := range e.Partitions {
				_, high, err := c.QueryWatermarkOffsets(*tp.Topic, tp.Partition, kafkaWatermarkMs)
				if err != nil {
					signal(fmt.Errorf("failed to query watermarks: %w", err))
					return err
				}
				tp.Offset = kafka.Offset(high)
				parts = append(parts, tp)
			}
			if err := c.Assign(parts); err != nil {
				signal(err)
				return err
			}
			signal(nil)
		case kafka.RevokedPartitions:
			return c.Unassign()
		}
		return nil
	}

	if err := c.SubscribeTopics([]string{topic}, rebalance); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &kafkaSubscription{
		owner:  k,
		out:    make(chan []byte, 100),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go sub.consumeMessages(subCtx, c, key, signal)

	timer := time.NewTimer(kafkaAssignTimeout)
	defer timer.Stop()

	select {
	case err := <-ready:
		if err != nil {
			_ = sub.Close()
			return nil, err
		}
	case <-ctx.Done():
		_ = sub.Close()
		return nil, ctx.Err()
	case <-timer.C:
		_ = sub.Close()
		return nil, errors.New("timed out waiting for kafka partition assignment")
	}

	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		_ = sub.Close()
		return nil, ErrClosed
	}
	k.subscriptions[sub] = struct{}{}
	k.mu.Unlock()

	return sub, nil
}

// Close closes all subscriptions and the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	subs := make([]*kafkaSubscription, 0, len(k.subscriptions))
	for sub := range k.subscriptions {
		subs = append(subs, sub)
	}
	k.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}

	k.producer.Flush(5000)
	k.producer.Close()
	<-k.doneCh

	return nil
}

func (k *KafkaPubSub) forget(sub *kafkaSubscription) {
	k.mu.Lock()
	delete(k.subscriptions, sub)
	k.mu.Unlock()
}

type kafkaSubscription struct {
	owner  *KafkaPubSub
	out    chan []byte
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *kafkaSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *kafkaSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.owner.forget(s)
	})
	return nil
}

// consumeMessages polls Kafka and forwards values keyed for this scene. The
// consumer is closed here so Poll and Close never race.
func (s *kafkaSubscription) consumeMessages(ctx context.Context, c *kafka.Consumer, key string, signal func(error)) {
	defer close(s.done)
	defer close(s.out)
	defer func() {
		if err := c.Close(); err != nil {
			l := applog.L()
			l.Warn().Err(err).Msg("failed to close kafka consumer")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := c.Poll(kafkaPollMs)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if string(e.Key) != key {
				continue
			}
			select {
			case s.out <- e.Value:
			case <-ctx.Done():
				return
			}

		case kafka.Error:
			l := applog.L()
			l.Error().Err(e).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("kafka consumer error")
			if e.IsFatal() {
				signal(e)
				return
			}
		}
	}
}

// sanitizeGroupID replaces characters not suitable for Kafka group IDs.
var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitizeGroupID(s string) string {
	return groupIDRegexp.ReplaceAllString(s, "-")
}
