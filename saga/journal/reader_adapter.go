package journal

import (
	"context"

	"github.com/icanact/saga-choreography/saga"
)

// readerAdapter 把任意 Store 的 Read 结果从 []Entry 拍平成 []saga.JournalEvent，
// 使之满足 saga.JournalReader——saga 包不能导入 journal（journal 反过来导入了
// saga），所以 saga.Recover 只认识一个最小的、结构化满足即可的接口。
type readerAdapter struct {
	store Store
}

// AsJournalReader 把一个 journal.Store 适配为 saga.Recover 所需的 saga.JournalReader。
func AsJournalReader(store Store) saga.JournalReader {
	return readerAdapter{store: store}
}

func (r readerAdapter) ListSagas(ctx context.Context) ([]saga.SagaID, error) {
	return r.store.ListSagas(ctx)
}

func (r readerAdapter) Read(ctx context.Context, sagaID saga.SagaID) ([]saga.JournalEvent, error) {
	entries, err := r.store.Read(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	events := make([]saga.JournalEvent, 0, len(entries))
	for _, e := range entries {
		events = append(events, e.Event)
	}
	return events, nil
}
