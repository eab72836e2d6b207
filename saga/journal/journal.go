// Package journal 提供 saga 参与者的只追加事件日志，是崩溃恢复的唯一真相来源。
package journal

import (
	"context"
	"time"

	"github.com/icanact/saga-choreography/saga"
)

// Entry 是日志中的一条不可变记录。
type Entry struct {
	Sequence         uint64
	RecordedAtMillis int64
	Event            saga.JournalEvent
}

// Store 是日志的存储契约。
//
// 保证：
//   - Append 在返回前已持久化，并为该 saga 分配严格大于此前任何序号的 sequence；
//   - Read 按追加顺序返回全部记录；
//   - ListSagas 返回所有仍有未被清理记录的 saga。
type Store interface {
	Append(ctx context.Context, sagaID saga.SagaID, event saga.JournalEvent) (sequence uint64, err error)
	Read(ctx context.Context, sagaID saga.SagaID) ([]Entry, error)
	ListSagas(ctx context.Context) ([]saga.SagaID, error)
	// Prune 移除某个已到达终态 saga 的全部记录。
	Prune(ctx context.Context, sagaID saga.SagaID) error
}

// NewEntry 是一个小的构造辅助函数，集中 now() 的取值方式。
func NewEntry(sequence uint64, event saga.JournalEvent) Entry {
	return Entry{Sequence: sequence, RecordedAtMillis: time.Now().UnixMilli(), Event: event}
}
