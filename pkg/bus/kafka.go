package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"
)

// kafkaDialer 建立生产者与消费者
type kafkaDialer func() (sarama.SyncProducer, sarama.Consumer, error)

// kafkaClient Kafka 总线实现
// 所有频道写入同一个 topic，消息 key 即频道名；
// 订阅端用分区消费者（非消费组）读取全部分区，保证每个实例都收到全量消息
type kafkaClient struct {
	cfg      *KafkaConfig
	dial     kafkaDialer
	producer sarama.SyncProducer
	consumer sarama.Consumer
	closed   atomic.Bool

	mu   sync.Mutex
	subs map[*kafkaSubscription]struct{}
}

// newKafkaClient 连接 Kafka
func newKafkaClient(cfg *KafkaConfig) (*kafkaClient, error) {
	return newKafkaClientWithDialer(cfg, func() (sarama.SyncProducer, sarama.Consumer, error) {
		sc := sarama.NewConfig()
		if cfg.ClientID != "" {
			sc.ClientID = cfg.ClientID
		}
		sc.Producer.Return.Successes = true
		sc.Producer.RequiredAcks = sarama.WaitForLocal

		producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
		if err != nil {
			return nil, nil, err
		}
		consumer, err := sarama.NewConsumer(cfg.Brokers, sc)
		if err != nil {
			_ = producer.Close()
			return nil, nil, err
		}
		return producer, consumer, nil
	})
}

func newKafkaClientWithDialer(cfg *KafkaConfig, dial kafkaDialer) (*kafkaClient, error) {
	producer, consumer, err := dial()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBusConnection, err)
	}
	return &kafkaClient{
		cfg:      cfg,
		dial:     dial,
		producer: producer,
		consumer: consumer,
		subs:     make(map[*kafkaSubscription]struct{}),
	}, nil
}

// Publish 发布消息
func (k *kafkaClient) Publish(ctx context.Context, channel string, payload []byte) error {
	if k.closed.Load() {
		return ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_, _, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.cfg.Topic,
		Key:   sarama.StringEncoder(channel),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBusPublish, err)
	}
	return nil
}

// Subscribe 从最新位点消费全部分区
// 同一个客户端上只能有一个订阅，需要多个订阅时先 Duplicate
func (k *kafkaClient) Subscribe(ctx context.Context, channels, patterns []string, handler Handler) (Subscription, error) {
	if k.closed.Load() {
		return nil, ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	partitions, err := k.consumer.Partitions(k.cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBusSubscribe, err)
	}

	s := &kafkaSubscription{
		client: k,
		msgs:   make(chan Message, 256),
		exited: make(chan struct{}),
	}

	for _, p := range partitions {
		pc, err := k.consumer.ConsumePartition(k.cfg.Topic, p, sarama.OffsetNewest)
		if err != nil {
			s.closePartitions()
			return nil, fmt.Errorf("%w: %w", ErrBusSubscribe, err)
		}
		s.pcs = append(s.pcs, pc)
	}

	chans := append([]string(nil), channels...)
	pats := append([]string(nil), patterns...)
	for _, pc := range s.pcs {
		s.wg.Add(1)
		go func(pc sarama.PartitionConsumer) {
			defer s.wg.Done()
			for m := range pc.Messages() {
				channel := string(m.Key)
				pattern, ok := matchAny(chans, pats, channel)
				if !ok {
					continue
				}
				s.msgs <- Message{Channel: channel, Pattern: pattern, Payload: m.Value}
			}
		}(pc)
	}

	// 多个分区汇入一个协程，保证 handler 串行
	go func() {
		defer close(s.exited)
		for msg := range s.msgs {
			handler(msg)
		}
	}()

	k.mu.Lock()
	k.subs[s] = struct{}{}
	k.mu.Unlock()

	return s, nil
}

// Duplicate 建立新的生产者与消费者
func (k *kafkaClient) Duplicate() (Client, error) {
	if k.closed.Load() {
		return nil, ErrBusClosed
	}
	return newKafkaClientWithDialer(k.cfg, k.dial)
}

// Ping 检查客户端状态
func (k *kafkaClient) Ping(ctx context.Context) error {
	if k.closed.Load() {
		return ErrBusClosed
	}
	return nil
}

// Close 关闭订阅、生产者与消费者
func (k *kafkaClient) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return nil
	}

	k.mu.Lock()
	subs := make([]*kafkaSubscription, 0, len(k.subs))
	for s := range k.subs {
		subs = append(subs, s)
	}
	k.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}

	perr := k.producer.Close()
	cerr := k.consumer.Close()
	if perr != nil {
		return perr
	}
	return cerr
}

// kafkaSubscription Kafka 订阅
type kafkaSubscription struct {
	client    *kafkaClient
	pcs       []sarama.PartitionConsumer
	msgs      chan Message
	wg        sync.WaitGroup
	exited    chan struct{}
	closeOnce sync.Once
}

func (s *kafkaSubscription) closePartitions() {
	for _, pc := range s.pcs {
		pc.AsyncClose()
	}
}

// Close 取消订阅
func (s *kafkaSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.client.mu.Lock()
		delete(s.client.subs, s)
		s.client.mu.Unlock()

		s.closePartitions()
		s.wg.Wait()
		close(s.msgs)
	})
	<-s.exited
	return nil
}
