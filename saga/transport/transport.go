// Package transport 把 saga.ChoreographyEvent 的发布/订阅契约绑定到通用的
// messaging.IMessageBus 上，使 saga 编排可以搭乘内存、NATS JetStream 或 Redis
// Streams 等任意已实现的传输。
package transport

import (
	"context"

	"github.com/icanact/saga-choreography/messaging"
	"github.com/icanact/saga-choreography/saga"
)

// Handler 收到一条编排事件时被调用。
type Handler func(ctx context.Context, event saga.ChoreographyEvent) error

// Transport 是 saga 核心对发布/订阅总线提出的最小契约。
type Transport interface {
	Publish(ctx context.Context, event saga.ChoreographyEvent) error
	Subscribe(ctx context.Context, sagaType string, handler Handler) error
}

// Adapter 在 messaging.IMessageBus 之上实现 Transport。
type Adapter struct {
	bus messaging.IMessageBus
}

// NewAdapter 包装一个已经配置好（内存/NATS/Redis）的消息总线。
func NewAdapter(bus messaging.IMessageBus) *Adapter {
	return &Adapter{bus: bus}
}

func (a *Adapter) Publish(ctx context.Context, event saga.ChoreographyEvent) error {
	return a.bus.Publish(ctx, event)
}

func (a *Adapter) Subscribe(ctx context.Context, sagaType string, handler Handler) error {
	return a.bus.Subscribe(ctx, saga.Topic(sagaType), &messageHandler{handler: handler})
}

// messageHandler adapts a transport.Handler into messaging.IMessageHandler.
//
// The bus delivers raw messaging.IMessage values; only messages that already
// satisfy saga.ChoreographyEvent (i.e. were published through this adapter,
// possibly after wire (de)serialization by the underlying transport) are
// forwarded to the handler.
type messageHandler struct {
	handler Handler
}

func (h *messageHandler) Handle(ctx context.Context, message messaging.IMessage) error {
	event, ok := message.(saga.ChoreographyEvent)
	if !ok {
		return nil
	}
	return h.handler(ctx, event)
}

func (h *messageHandler) Type() string {
	return "saga.transport.handler"
}
