package ws

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastFastPath(t *testing.T) {
	metrics := newRecordingMetrics()
	s, tr := newTestServer(t, WithMetrics(metrics))
	_, a := login(t, s, tr.Hub, "u1")
	_, b := login(t, s, tr.Hub, "u2")
	_, c := login(t, s, tr.Hub, "u3")
	_, pending := open(t, s, tr.Hub)

	before := tr.publishes.Load()
	require.NoError(t, s.Broadcast(context.Background(), "news", map[string]int{"n": 1}))

	assert.Equal(t, int64(1), tr.publishes.Load()-before, "one native publish")
	for _, sock := range []*fakeSocket{a, b, c} {
		assert.JSONEq(t, `{"n":1}`, string(sock.last(t, "news").Data))
	}
	assert.Empty(t, pending.events("news"), "unauthenticated connections are not broadcast targets")
	assert.Equal(t, 1, metrics.deliveries("broadcast/fast"))
}

func TestBroadcastWithExclusion(t *testing.T) {
	metrics := newRecordingMetrics()
	s, tr := newTestServer(t, WithMetrics(metrics))
	ca, a := login(t, s, tr.Hub, "u1")
	_, b := login(t, s, tr.Hub, "u2")
	_, c := login(t, s, tr.Hub, "u3")

	before := tr.publishes.Load()
	require.NoError(t, s.Broadcast(context.Background(), "news", 1, ca.ID()))

	assert.Equal(t, before, tr.publishes.Load(), "no native publish")
	assert.Empty(t, a.events("news"))
	assert.Len(t, b.events("news"), 1)
	assert.Len(t, c.events("news"), 1)
	assert.Equal(t, 1, metrics.deliveries("broadcast/individual"))
}

func TestRoomDelivery(t *testing.T) {
	s, tr := newTestServer(t, WithValidateRoom(allowAllRooms))
	ca, a := login(t, s, tr.Hub, "u1", "room1")
	_, b := login(t, s, tr.Hub, "u2", "room1")
	_, outsider := login(t, s, tr.Hub, "u3")

	require.NoError(t, s.SendToRoom(context.Background(), "room1", "chat", "hi"))
	assert.Len(t, a.events("chat"), 1)
	assert.Len(t, b.events("chat"), 1)
	assert.Empty(t, outsider.events("chat"))

	require.NoError(t, s.SendToRoom(context.Background(), "room1", "chat", "again", ca.ID()))
	assert.Len(t, a.events("chat"), 1)
	assert.Len(t, b.events("chat"), 2)
}

func TestUserDelivery(t *testing.T) {
	s, tr := newTestServer(t)
	first, a := login(t, s, tr.Hub, "u1")
	_, b := login(t, s, tr.Hub, "u1")
	_, other := login(t, s, tr.Hub, "u2")

	require.Len(t, s.UserSessions("u1"), 2)

	before := tr.publishes.Load()
	require.NoError(t, s.SendToUser(context.Background(), "u1", "dm", "x"))
	assert.Equal(t, int64(2), tr.publishes.Load()-before, "one publish per session client topic")
	assert.Len(t, a.events("dm"), 1)
	assert.Len(t, b.events("dm"), 1)
	assert.Empty(t, other.events("dm"))

	// 用户范围也支持排除
	require.NoError(t, s.SendToUser(context.Background(), "u1", "dm", "y", first.ID()))
	assert.Len(t, a.events("dm"), 1)
	assert.Len(t, b.events("dm"), 2)
}

func TestClientDelivery(t *testing.T) {
	s, tr := newTestServer(t)
	c, sock := login(t, s, tr.Hub, "u1")
	_, other := login(t, s, tr.Hub, "u2")

	require.NoError(t, s.SendToClient(context.Background(), c.ID(), "ping", nil))
	env := sock.last(t, "ping")
	assert.Empty(t, env.Data)
	assert.Empty(t, other.events("ping"))
}

func TestSendInference(t *testing.T) {
	s, tr := newTestServer(t, WithValidateRoom(allowAllRooms))
	c, a := login(t, s, tr.Hub, "u1", "room1")
	_, b := login(t, s, tr.Hub, "u2")
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, SendRequest{Destination: c.ID(), Payload: Payload{Topic: "direct", Data: 1}}))
	assert.Len(t, a.events("direct"), 1)
	assert.Empty(t, b.events("direct"))

	require.NoError(t, s.Send(ctx, SendRequest{Destination: "room1", Payload: Payload{Topic: "x", Data: 1}}))
	assert.JSONEq(t, `1`, string(a.last(t, "x").Data))
	assert.Empty(t, b.events("x"))

	require.NoError(t, s.Send(ctx, SendRequest{Payload: Payload{Topic: "all"}}))
	assert.Len(t, a.events("all"), 1)
	assert.Len(t, b.events("all"), 1)

	require.NoError(t, s.Send(ctx, SendRequest{Destination: "u2", Kind: MessageTypeUser, Payload: Payload{Topic: "dm"}}))
	assert.Len(t, b.events("dm"), 1)

	assert.ErrorIs(t, s.Send(ctx, SendRequest{Destination: "x", Kind: "bogus", Payload: Payload{Topic: "t"}}), ErrInvalidRequest)
	assert.ErrorIs(t, s.Send(ctx, SendRequest{Kind: MessageTypeRoom, Payload: Payload{Topic: "t"}}), ErrInvalidRequest)
	assert.ErrorIs(t, s.Send(ctx, SendRequest{Destination: "room1"}), ErrInvalidRequest)
}

func TestTransformIndividualPath(t *testing.T) {
	var calls atomic.Int64
	s, tr := newTestServer(t,
		WithDeliveryConcurrency(2),
		WithTransform(func(ctx context.Context, c *Connection, env *Envelope) (*Envelope, error) {
			calls.Add(1)
			switch c.UserID() {
			case "drop":
				return nil, errors.New("cannot seal")
			case "panic":
				panic("transform exploded")
			case "plain":
				return nil, nil
			}
			return &Envelope{Event: "wrapped", Data: env.Data}, nil
		}),
	)
	_, wrapped := login(t, s, tr.Hub, "u1")
	_, plain := login(t, s, tr.Hub, "plain")
	_, dropped := login(t, s, tr.Hub, "drop")
	_, panicked := login(t, s, tr.Hub, "panic")

	calls.Store(0)
	before := tr.publishes.Load()
	require.NoError(t, s.Broadcast(context.Background(), "news", 1))

	assert.Equal(t, before, tr.publishes.Load())
	assert.Equal(t, int64(4), calls.Load())
	assert.Len(t, wrapped.events("wrapped"), 1)
	assert.Len(t, plain.events("news"), 1)
	assert.Empty(t, dropped.events("news"))
	assert.Empty(t, panicked.events("news"))

	// connected 不经过转换
	assert.Len(t, wrapped.events(EventConnected), 1)
}

func TestSendStatusSignals(t *testing.T) {
	s, tr := newTestServer(t, WithTransform(func(ctx context.Context, c *Connection, env *Envelope) (*Envelope, error) {
		return nil, nil
	}))
	c, sock := login(t, s, tr.Hub, "u1")

	sock.setStatus(SendBackpressure)
	require.NoError(t, s.SendToClient(context.Background(), c.ID(), "a", nil))
	assert.True(t, c.IsBackpressured())

	// 背压期间仍然尝试发送
	require.NoError(t, s.SendToClient(context.Background(), c.ID(), "b", nil))
	assert.Len(t, sock.events("b"), 1)

	s.Drain(c)
	assert.False(t, c.IsBackpressured())

	sock.setStatus(SendOK)
	sock.Close(1000, "")
	assert.Equal(t, SendDropped, s.sendEnvelope(c, "late", nil, ""))
}

func TestWindowedFanoutIgnoresSenderCancel(t *testing.T) {
	s, tr := newTestServer(t, WithValidateRoom(allowAllRooms), WithDeliveryConcurrency(1))
	ca, a := login(t, s, tr.Hub, "u1", "room1")
	_, b := login(t, s, tr.Hub, "u2", "room1")
	_, c := login(t, s, tr.Hub, "u3", "room1")

	// 发送方连接已断开，其上下文已取消
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.SendToRoom(ctx, "room1", "chat", "hi", ca.ID()))

	assert.Empty(t, a.events("chat"))
	assert.Len(t, b.events("chat"), 1)
	assert.Len(t, c.events("chat"), 1)
}
