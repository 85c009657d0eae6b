package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSweepClosesIdleConnections(t *testing.T) {
	s, tr := newTestServer(t)
	idle, idleSock := login(t, s, tr.Hub, "u1")
	_, pendingSock := open(t, s, tr.Hub)

	now := idle.LastActivity()
	assert.Zero(t, s.sweep(now.Add(89*time.Second)))

	assert.Equal(t, 1, s.sweep(now.Add(91*time.Second)))
	code, reason, closed := idleSock.closedWith()
	assert.True(t, closed)
	assert.Equal(t, CloseHeartbeatTimeout, code)
	assert.Equal(t, "heartbeat timeout", reason)

	// 未认证连接只受认证超时约束
	_, _, closed = pendingSock.closedWith()
	assert.False(t, closed)
	assert.Equal(t, 1, s.ConnectionCount())
}

func TestAnyMessageRefreshesActivity(t *testing.T) {
	s, tr := newTestServer(t)
	c, sock := login(t, s, tr.Hub, "u1")

	start := c.LastActivity()
	time.Sleep(5 * time.Millisecond)

	// 非法消息同样刷新活跃时间
	s.Message(c, []byte("garbage"))
	refreshed := c.LastActivity()
	assert.True(t, refreshed.After(start))

	time.Sleep(5 * time.Millisecond)
	send(t, s, c, EventHeartbeat, nil)
	assert.True(t, c.LastActivity().After(refreshed))
	assert.Len(t, sock.events(EventError), 1, "heartbeat has no reply")

	assert.Zero(t, s.sweep(start.Add(90*time.Second)))
	_, _, closed := sock.closedWith()
	assert.False(t, closed)
}

func TestHeartbeatLoop(t *testing.T) {
	s, tr := newTestServer(t, WithHeartbeat(10*time.Millisecond, 30*time.Millisecond))
	_, sock := login(t, s, tr.Hub, "u1")

	go s.runHeartbeat(s.ctx)

	assert.Eventually(t, func() bool {
		code, _, closed := sock.closedWith()
		return closed && code == CloseHeartbeatTimeout
	}, time.Second, 5*time.Millisecond)
}
