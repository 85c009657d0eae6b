package ws

import "sync"

// Subscriber 可以接收主题消息的一方
type Subscriber interface {
	Send(data []byte) SendStatus
}

// Hub 进程内主题表，实现 Transport
// Publish 一次调用送达该主题的全部订阅者
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[Subscriber]struct{}
}

// NewHub 创建主题表
func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[Subscriber]struct{}),
	}
}

// Publish 发布到主题
func (h *Hub) Publish(topic string, data []byte) {
	h.mu.RLock()
	set := h.topics[topic]
	subs := make([]Subscriber, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.Send(data)
	}
}

// Subscribe 订阅主题，返回是否新订阅
func (h *Hub) Subscribe(topic string, sub Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.topics[topic]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.topics[topic] = set
	}
	if _, exists := set[sub]; exists {
		return false
	}
	set[sub] = struct{}{}
	return true
}

// Unsubscribe 取消订阅，返回之前是否已订阅
func (h *Hub) Unsubscribe(topic string, sub Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.topics[topic]
	if !ok {
		return false
	}
	if _, exists := set[sub]; !exists {
		return false
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.topics, topic)
	}
	return true
}

// UnsubscribeAll 取消订阅者的全部主题
func (h *Hub) UnsubscribeAll(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic, set := range h.topics {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Subscribers 主题的订阅者数量
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
