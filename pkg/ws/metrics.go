package ws

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	IncrementConnections()
	DecrementConnections()
	SetConnectionCount(count int)
	IncrementClosed(code int)

	// 认证指标（result: accepted / rejected / timeout / encryption_required）
	IncrementAuth(result string)

	// 消息指标
	IncrementMessageCount(event string)
	IncrementInvalidMessages()

	// 房间指标
	SetRoomCount(count int)

	// 投递指标（path: fast / individual）
	IncrementDelivery(scope MessageType, path string)
	IncrementDroppedMessages()
	IncrementBackpressure()

	// 总线指标
	IncrementBusPublished()
	IncrementBusReceived()
	IncrementBusDiscarded(reason string)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (m *NoopMetrics) IncrementConnections()                            {}
func (m *NoopMetrics) DecrementConnections()                            {}
func (m *NoopMetrics) SetConnectionCount(count int)                     {}
func (m *NoopMetrics) IncrementClosed(code int)                         {}
func (m *NoopMetrics) IncrementAuth(result string)                      {}
func (m *NoopMetrics) IncrementMessageCount(event string)               {}
func (m *NoopMetrics) IncrementInvalidMessages()                        {}
func (m *NoopMetrics) SetRoomCount(count int)                           {}
func (m *NoopMetrics) IncrementDelivery(scope MessageType, path string) {}
func (m *NoopMetrics) IncrementDroppedMessages()                        {}
func (m *NoopMetrics) IncrementBackpressure()                           {}
func (m *NoopMetrics) IncrementBusPublished()                           {}
func (m *NoopMetrics) IncrementBusReceived()                            {}
func (m *NoopMetrics) IncrementBusDiscarded(reason string)              {}
