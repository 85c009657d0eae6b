package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestKafkaPublish 测试发布时 key 为频道名
func TestKafkaPublish(t *testing.T) {
	cfg := DefaultKafkaConfig()
	producer := mocks.NewSyncProducer(t, nil)
	consumer := mocks.NewConsumer(t, nil)

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		key, _ := m.Key.Encode()
		if string(key) != "qiws:room:lobby" {
			return fmt.Errorf("unexpected key %q", key)
		}
		if m.Topic != cfg.Topic {
			return fmt.Errorf("unexpected topic %q", m.Topic)
		}
		return nil
	})

	c, err := newKafkaClientWithDialer(cfg, func() (sarama.SyncProducer, sarama.Consumer, error) {
		return producer, consumer, nil
	})
	require.NoError(t, err)

	require.NoError(t, c.Publish(context.Background(), "qiws:room:lobby", []byte(`{}`)))
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Publish(context.Background(), "x", nil), ErrBusClosed)
}

// TestKafkaSubscribe 测试订阅按 key 过滤
func TestKafkaSubscribe(t *testing.T) {
	cfg := DefaultKafkaConfig()
	producer := mocks.NewSyncProducer(t, nil)
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{cfg.Topic: {0, 1}})

	consumer.ExpectConsumePartition(cfg.Topic, 0, sarama.OffsetNewest).
		YieldMessage(&sarama.ConsumerMessage{Key: []byte("qiws:broadcast"), Value: []byte("b")}).
		YieldMessage(&sarama.ConsumerMessage{Key: []byte("qiws:other"), Value: []byte("skip")})
	consumer.ExpectConsumePartition(cfg.Topic, 1, sarama.OffsetNewest).
		YieldMessage(&sarama.ConsumerMessage{Key: []byte("qiws:user:u1"), Value: []byte("u")})

	c, err := newKafkaClientWithDialer(cfg, func() (sarama.SyncProducer, sarama.Consumer, error) {
		return producer, consumer, nil
	})
	require.NoError(t, err)

	var got collector
	s, err := c.Subscribe(context.Background(), []string{"qiws:broadcast"}, []string{"qiws:user:*"}, got.handle)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(got.all()) == 2 }, time.Second, 5*time.Millisecond)

	byChannel := map[string]Message{}
	for _, m := range got.all() {
		byChannel[m.Channel] = m
	}
	assert.Equal(t, []byte("b"), byChannel["qiws:broadcast"].Payload)
	assert.Equal(t, "qiws:user:*", byChannel["qiws:user:u1"].Pattern)

	require.NoError(t, s.Close())
	require.NoError(t, c.Close())
}
