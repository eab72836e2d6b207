package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icanact/saga-choreography/messaging"
	"github.com/icanact/saga-choreography/messaging/transport/memory"
	"github.com/icanact/saga-choreography/saga"
)

func newTestBus(t *testing.T) (*messaging.MessageBus, func()) {
	t.Helper()
	tpt := memory.NewMemoryTransport(16, 2)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tpt.Start(ctx))
	bus := messaging.NewMessageBus(tpt)
	return bus, func() {
		cancel()
		_ = tpt.Close()
	}
}

// TestAdapter_PublishAndSubscribe 验证通过 Adapter 发布的 ChoreographyEvent
// 能被按 saga 类型订阅的 Handler 收到，且 payload 没有被底层总线改形。
func TestAdapter_PublishAndSubscribe(t *testing.T) {
	bus, closeFn := newTestBus(t)
	defer closeFn()

	adapter := NewAdapter(bus)
	ctx := context.Background()

	received := make(chan saga.ChoreographyEvent, 1)
	err := adapter.Subscribe(ctx, "deribit_order", func(ctx context.Context, event saga.ChoreographyEvent) error {
		received <- event
		return nil
	})
	require.NoError(t, err)

	sagaCtx := saga.NewSagaContext(saga.SagaID(42), "deribit_order", "prepare_order", saga.NewPeerID())
	started := saga.NewSagaStarted(sagaCtx, []byte("order-intent"))

	require.NoError(t, adapter.Publish(ctx, started))

	select {
	case event := <-received:
		assert.Equal(t, saga.EventSagaStarted, event.EventType())
		assert.Equal(t, saga.SagaID(42), event.Context().SagaID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

// TestAdapter_SubscriptionIsScopedBySagaType 验证不同 saga 类型各自有独立的主题，
// 订阅一个类型不会收到另一个类型下发布的事件。
func TestAdapter_SubscriptionIsScopedBySagaType(t *testing.T) {
	bus, closeFn := newTestBus(t)
	defer closeFn()

	adapter := NewAdapter(bus)
	ctx := context.Background()

	received := make(chan saga.ChoreographyEvent, 1)
	require.NoError(t, adapter.Subscribe(ctx, "deribit_order", func(ctx context.Context, event saga.ChoreographyEvent) error {
		received <- event
		return nil
	}))

	otherCtx := saga.NewSagaContext(saga.SagaID(1), "unrelated_saga", "step", saga.NewPeerID())
	require.NoError(t, adapter.Publish(ctx, saga.NewSagaStarted(otherCtx, nil)))

	select {
	case <-received:
		t.Fatal("handler subscribed to deribit_order must not receive unrelated_saga events")
	case <-time.After(100 * time.Millisecond):
	}
}
