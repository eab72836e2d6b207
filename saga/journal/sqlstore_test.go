package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/icanact/saga-choreography/saga"
)

func openTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQLStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestSQLStore_AppendAssignsStrictlyIncreasingSequence 验证 sqlite 实现和
// 内存实现一样，为同一 saga 分配严格递增的 sequence。
func TestSQLStore_AppendAssignsStrictlyIncreasingSequence(t *testing.T) {
	s := openTestSQLStore(t)
	ctx := context.Background()
	sagaID := saga.SagaID(1)

	seq1, err := s.Append(ctx, sagaID, saga.JournalEvent{Type: saga.JournalSagaRegistered})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq1)

	seq2, err := s.Append(ctx, sagaID, saga.JournalEvent{Type: saga.JournalStepTriggered, TriggeringEvent: "saga.started"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq2)
}

// TestSQLStore_ReadRoundTripsEventFields 验证写入后读出的事件字段（包括二进制
// Output/CompensationData）与写入时完全一致，覆盖 JSON 编解码往返。
func TestSQLStore_ReadRoundTripsEventFields(t *testing.T) {
	s := openTestSQLStore(t)
	ctx := context.Background()
	sagaID := saga.SagaID(1)

	_, err := s.Append(ctx, sagaID, saga.JournalEvent{
		Type:             saga.JournalStepExecutionCompleted,
		Output:           []byte{0xCA, 0xFE},
		CompensationData: []byte{0xCA, 0xFE},
	})
	require.NoError(t, err)

	entries, err := s.Read(ctx, sagaID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, saga.JournalStepExecutionCompleted, entries[0].Event.Type)
	assert.Equal(t, []byte{0xCA, 0xFE}, entries[0].Event.Output)
	assert.Equal(t, []byte{0xCA, 0xFE}, entries[0].Event.CompensationData)
}

// TestSQLStore_ReadRoundTripsInput 验证 StepTriggered 的 Input 字段也会完整
// 经过 JSON 编解码往返，Recover 依赖它重放原始输入。
func TestSQLStore_ReadRoundTripsInput(t *testing.T) {
	s := openTestSQLStore(t)
	ctx := context.Background()
	sagaID := saga.SagaID(1)

	_, err := s.Append(ctx, sagaID, saga.JournalEvent{
		Type:            saga.JournalStepTriggered,
		TriggeringEvent: "saga.started",
		Input:           []byte{0xB0, 0x0B},
	})
	require.NoError(t, err)

	entries, err := s.Read(ctx, sagaID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte{0xB0, 0x0B}, entries[0].Event.Input)
}

// TestSQLStore_ReadOrdersBySequence 验证 Read 按 sequence 升序返回，不依赖
// 插入顺序之外的任何排序假设。
func TestSQLStore_ReadOrdersBySequence(t *testing.T) {
	s := openTestSQLStore(t)
	ctx := context.Background()
	sagaID := saga.SagaID(1)

	_, _ = s.Append(ctx, sagaID, saga.JournalEvent{Type: saga.JournalSagaRegistered})
	_, _ = s.Append(ctx, sagaID, saga.JournalEvent{Type: saga.JournalStepTriggered})
	_, _ = s.Append(ctx, sagaID, saga.JournalEvent{Type: saga.JournalStepExecutionStarted, Attempt: 1})

	entries, err := s.Read(ctx, sagaID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(1), entries[0].Sequence)
	assert.Equal(t, uint64(2), entries[1].Sequence)
	assert.Equal(t, uint64(3), entries[2].Sequence)
}

// TestSQLStore_ListSagasUsesGroupByAsDistinct 验证 ListSagas 对每个 saga_id
// 只返回一次，即使该 saga 下有多条记录（GroupBy 替代 SELECT DISTINCT 的用法）。
func TestSQLStore_ListSagasUsesGroupByAsDistinct(t *testing.T) {
	s := openTestSQLStore(t)
	ctx := context.Background()

	_, _ = s.Append(ctx, saga.SagaID(1), saga.JournalEvent{Type: saga.JournalSagaRegistered})
	_, _ = s.Append(ctx, saga.SagaID(1), saga.JournalEvent{Type: saga.JournalStepTriggered})
	_, _ = s.Append(ctx, saga.SagaID(2), saga.JournalEvent{Type: saga.JournalSagaRegistered})

	ids, err := s.ListSagas(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []saga.SagaID{1, 2}, ids)
}

// TestSQLStore_PruneRemovesAllEntriesForSaga 验证 Prune 清空目标 saga 的全部记录，
// 且不影响其他 saga。
func TestSQLStore_PruneRemovesAllEntriesForSaga(t *testing.T) {
	s := openTestSQLStore(t)
	ctx := context.Background()

	_, _ = s.Append(ctx, saga.SagaID(1), saga.JournalEvent{Type: saga.JournalSagaRegistered})
	_, _ = s.Append(ctx, saga.SagaID(2), saga.JournalEvent{Type: saga.JournalSagaRegistered})

	require.NoError(t, s.Prune(ctx, saga.SagaID(1)))

	entries, err := s.Read(ctx, saga.SagaID(1))
	require.NoError(t, err)
	assert.Empty(t, entries)

	ids, err := s.ListSagas(ctx)
	require.NoError(t, err)
	assert.Equal(t, []saga.SagaID{2}, ids)
}

// TestAsJournalReader_WithSQLStore 验证 reader_adapter.go 对 sqlite 实现同样适用
// （它只依赖 Store 接口，不关心具体实现）。
func TestAsJournalReader_WithSQLStore(t *testing.T) {
	s := openTestSQLStore(t)
	ctx := context.Background()
	sagaID := saga.SagaID(1)

	_, _ = s.Append(ctx, sagaID, saga.JournalEvent{Type: saga.JournalSagaRegistered})

	reader := AsJournalReader(s)
	events, err := reader.Read(ctx, sagaID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, saga.JournalSagaRegistered, events[0].Type)
}
