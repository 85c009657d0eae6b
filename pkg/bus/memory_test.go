package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collector 收集回调消息
type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) handle(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *collector) all() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

// TestMemoryPublishSubscribe 测试精确订阅与模式订阅
func TestMemoryPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	root := NewMemory()
	defer root.Close()

	pub, err := root.Duplicate()
	require.NoError(t, err)
	sub, err := root.Duplicate()
	require.NoError(t, err)

	var got collector
	s, err := sub.Subscribe(ctx, []string{"qiws:broadcast"}, []string{"qiws:room:*"}, got.handle)
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, "qiws:broadcast", []byte("b")))
	require.NoError(t, pub.Publish(ctx, "qiws:room:lobby", []byte("r")))
	require.NoError(t, pub.Publish(ctx, "qiws:user:u1", []byte("ignored")))

	require.Eventually(t, func() bool { return len(got.all()) == 2 }, time.Second, 5*time.Millisecond)
	msgs := got.all()
	assert.Equal(t, Message{Channel: "qiws:broadcast", Payload: []byte("b")}, msgs[0])
	assert.Equal(t, Message{Channel: "qiws:room:lobby", Pattern: "qiws:room:*", Payload: []byte("r")}, msgs[1])

	require.NoError(t, s.Close())
	require.NoError(t, pub.Close())
	require.NoError(t, sub.Close())
}

// TestMemoryOrder 测试同一订阅内按发布顺序回调
func TestMemoryOrder(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	defer c.Close()

	var got collector
	_, err := c.Subscribe(ctx, nil, []string{"*"}, got.handle)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, c.Publish(ctx, "ch", []byte{byte(i)}))
	}
	require.Eventually(t, func() bool { return len(got.all()) == 50 }, time.Second, 5*time.Millisecond)
	for i, m := range got.all() {
		assert.Equal(t, byte(i), m.Payload[0])
	}
}

// TestMemoryClosed 测试关闭后的行为
func TestMemoryClosed(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	var got collector
	_, err := c.Subscribe(ctx, []string{"a"}, nil, got.handle)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Publish(ctx, "a", nil), ErrBusClosed)
	assert.ErrorIs(t, c.Ping(ctx), ErrBusClosed)
	_, err = c.Duplicate()
	assert.ErrorIs(t, err, ErrBusClosed)
	_, err = c.Subscribe(ctx, []string{"a"}, nil, got.handle)
	assert.ErrorIs(t, err, ErrBusClosed)
}

// TestMemorySubscriptionClose 测试取消订阅后不再回调
func TestMemorySubscriptionClose(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	defer c.Close()

	var got collector
	s, err := c.Subscribe(ctx, []string{"a"}, nil, got.handle)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	require.NoError(t, c.Publish(ctx, "a", []byte("x")))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got.all())

	_, err = c.Subscribe(ctx, nil, nil, nil)
	assert.ErrorIs(t, err, ErrBusSubscribe)
}
