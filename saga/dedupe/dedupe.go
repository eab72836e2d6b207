// Package dedupe 提供 saga 参与者消费幂等性所需的原子"检查并标记"存储。
package dedupe

import (
	"context"

	"github.com/icanact/saga-choreography/saga"
)

// Store 是去重存储的契约。CheckAndMark 是热路径上唯一需要的原子操作：
// 观察"是否已处理过"和记录"现在处理了"必须是同一步。
type Store interface {
	// CheckAndMark 原子地检查 key 是否已被处理过；若未处理过则标记并返回 true
	// （表示调用方应当继续处理），否则返回 false（表示应当丢弃）。
	CheckAndMark(ctx context.Context, sagaID saga.SagaID, key string) (inserted bool, err error)

	// Contains 仅检查不标记，主要用于调试/测试断言。
	Contains(ctx context.Context, sagaID saga.SagaID, key string) bool

	// MarkProcessed 无条件标记 key 为已处理，不返回此前是否已存在；用于调用方
	// 已经通过其他途径（例如恢复重放）确认某个 key 必须被视为已消费的场景，
	// 不需要 CheckAndMark 的"是否新插入"返回值。
	MarkProcessed(ctx context.Context, sagaID saga.SagaID, key string) error

	// Prune 清理某个已到达终态 saga 的全部去重记录。
	Prune(ctx context.Context, sagaID saga.SagaID) error
}
