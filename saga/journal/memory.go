package journal

import (
	"context"
	"sync"

	"github.com/icanact/saga-choreography/saga"
)

// Memory 是一个非持久化的 Store 实现：进程重启后日志清空。
// 适合测试和不需要跨重启恢复的部署。
type Memory struct {
	mu       sync.RWMutex
	entries  map[saga.SagaID][]Entry
	sequence map[saga.SagaID]uint64
}

// NewMemory 创建一个空的内存日志。
func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[saga.SagaID][]Entry),
		sequence: make(map[saga.SagaID]uint64),
	}
}

func (m *Memory) Append(ctx context.Context, sagaID saga.SagaID, event saga.JournalEvent) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequence[sagaID]++
	seq := m.sequence[sagaID]
	m.entries[sagaID] = append(m.entries[sagaID], NewEntry(seq, event))
	return seq, nil
}

func (m *Memory) Read(ctx context.Context, sagaID saga.SagaID) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.entries[sagaID]
	out := make([]Entry, len(src))
	copy(out, src)
	return out, nil
}

func (m *Memory) ListSagas(ctx context.Context) ([]saga.SagaID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]saga.SagaID, 0, len(m.entries))
	for id, entries := range m.entries {
		if len(entries) > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *Memory) Prune(ctx context.Context, sagaID saga.SagaID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, sagaID)
	delete(m.sequence, sagaID)
	return nil
}
