package dedupe

import (
	"context"
	"sync"

	"github.com/icanact/saga-choreography/saga"
)

// Memory 是一个进程内去重存储：不做容量驱逐（去重正确性不能依赖于
// 未确认 key 的容量驱逐），只在 saga 到达终态时由调用方显式 Prune。
type Memory struct {
	mu   sync.Mutex
	seen map[saga.SagaID]map[string]struct{}
}

// NewMemory 创建一个空的内存去重存储。
func NewMemory() *Memory {
	return &Memory{seen: make(map[saga.SagaID]map[string]struct{})}
}

func (m *Memory) CheckAndMark(ctx context.Context, sagaID saga.SagaID, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, ok := m.seen[sagaID]
	if !ok {
		keys = make(map[string]struct{})
		m.seen[sagaID] = keys
	}
	if _, exists := keys[key]; exists {
		return false, nil
	}
	keys[key] = struct{}{}
	return true, nil
}

func (m *Memory) Contains(ctx context.Context, sagaID saga.SagaID, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, ok := m.seen[sagaID]
	if !ok {
		return false
	}
	_, exists := keys[key]
	return exists
}

func (m *Memory) MarkProcessed(ctx context.Context, sagaID saga.SagaID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, ok := m.seen[sagaID]
	if !ok {
		keys = make(map[string]struct{})
		m.seen[sagaID] = keys
	}
	keys[key] = struct{}{}
	return nil
}

func (m *Memory) Prune(ctx context.Context, sagaID saga.SagaID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.seen, sagaID)
	return nil
}
