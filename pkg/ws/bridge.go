package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/qiws/pkg/bus"
	"github.com/tokmz/qiws/pkg/tracing"
)

// 总线消息丢弃原因
const (
	discardMalformed   = "malformed"
	discardSelf        = "self"
	discardUnknownType = "unknown_type"
)

// channels 总线频道命名
type channels struct {
	prefix string
}

func (ch channels) broadcast() string { return ch.prefix + "broadcast" }

func (ch channels) scoped(scope MessageType, target string) string {
	if scope == MessageTypeBroadcast {
		return ch.broadcast()
	}
	return ch.prefix + string(scope) + ":" + target
}

func (ch channels) patterns() []string {
	return []string{
		ch.prefix + "room:*",
		ch.prefix + "client:*",
		ch.prefix + "user:*",
	}
}

// target 从频道名还原投递目标，例如 qiws:room:lobby -> lobby
func (ch channels) target(scope MessageType, channel string) string {
	return strings.TrimPrefix(channel, ch.prefix+string(scope)+":")
}

// bridge 总线桥接
// 发布和订阅各占一条复制出的连接，只归桥接所有
type bridge struct {
	s   *Server
	ch  channels
	pub bus.Client
	sub bus.Client

	mu           sync.Mutex
	subscription bus.Subscription
}

func newBridge(s *Server, client bus.Client) (*bridge, error) {
	pub, err := client.Duplicate()
	if err != nil {
		return nil, fmt.Errorf("duplicate publisher: %w", err)
	}
	sub, err := client.Duplicate()
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("duplicate subscriber: %w", err)
	}
	return &bridge{
		s:   s,
		ch:  channels{prefix: s.cfg.Bus.Prefix},
		pub: pub,
		sub: sub,
	}, nil
}

// start 订阅广播频道和三组通配模式
func (b *bridge) start(ctx context.Context) error {
	subscription, err := b.sub.Subscribe(ctx, []string{b.ch.broadcast()}, b.ch.patterns(), b.receive)
	if err != nil {
		return fmt.Errorf("bus subscribe: %w", err)
	}
	b.mu.Lock()
	b.subscription = subscription
	b.mu.Unlock()

	b.s.log.Info("bus bridge subscribed",
		zap.String("channel", b.ch.broadcast()),
		zap.Strings("patterns", b.ch.patterns()),
	)
	return nil
}

// publish 发布到总线，错误只记录日志并返回
func (b *bridge) publish(ctx context.Context, env *DistributedEnvelope) error {
	channel := b.ch.scoped(env.MessageType, env.Target)

	ctx, span := tracing.StartSpan(ctx, "ws.bus.publish")
	defer span.End()
	tracing.SetAttributes(span, map[string]any{
		"bus.channel": channel,
		"ws.event":    env.Event,
	})
	env.Trace = tracing.Inject(ctx)

	payload, err := json.Marshal(env)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	if err := b.pub.Publish(ctx, channel, payload); err != nil {
		tracing.RecordError(span, err)
		b.s.log.Warn("bus publish failed",
			zap.String("channel", channel),
			zap.String("event", env.Event),
			zap.Error(err),
		)
		return err
	}
	b.s.metrics.IncrementBusPublished()
	return nil
}

// receive 总线入站处理
// 任何异常都只丢弃这一条消息，桥接继续运行
func (b *bridge) receive(msg bus.Message) {
	b.s.metrics.IncrementBusReceived()

	var env DistributedEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil || env.OriginServerID == "" || env.Event == "" {
		b.discard(msg, discardMalformed, err)
		return
	}
	if env.OriginServerID == b.s.id {
		// 发送时已完成本地投递
		b.s.metrics.IncrementBusDiscarded(discardSelf)
		return
	}
	if !env.MessageType.Valid() {
		b.discard(msg, discardUnknownType, fmt.Errorf("unknown message type %q", env.MessageType))
		return
	}

	target := env.Target
	if target == "" && env.MessageType != MessageTypeBroadcast {
		target = b.ch.target(env.MessageType, msg.Channel)
	}

	ctx, span := tracing.StartSpan(tracing.Extract(b.s.ctx, env.Trace), "ws.bus.receive")
	defer span.End()
	tracing.SetAttributes(span, map[string]any{
		"bus.channel":   msg.Channel,
		"ws.event":      env.Event,
		"ws.origin":     env.OriginServerID,
		"ws.delivery":   string(env.MessageType),
		"ws.target":     target,
		"ws.exclusions": len(env.Exclude),
	})

	b.s.deliverLocal(ctx, env.MessageType, target, env.Envelope(), env.Exclude)
}

func (b *bridge) discard(msg bus.Message, reason string, err error) {
	b.s.metrics.IncrementBusDiscarded(reason)
	b.s.log.Warn("bus message discarded",
		zap.String("channel", msg.Channel),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

// close 取消订阅并关闭两条连接
func (b *bridge) close() error {
	b.mu.Lock()
	subscription := b.subscription
	b.subscription = nil
	b.mu.Unlock()

	if subscription != nil {
		if err := subscription.Close(); err != nil {
			b.s.log.Warn("bus unsubscribe failed", zap.Error(err))
		}
	}

	var g errgroup.Group
	g.Go(b.pub.Close)
	g.Go(b.sub.Close)
	return g.Wait()
}
