package typestate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHappyPathTransitions 覆盖前向路径的全部合法转换：
// Idle -> Triggered -> Executing -> Completed -> Compensating -> Compensated。
func TestHappyPathTransitions(t *testing.T) {
	idle := NewIdle(SagaID(1), "prepare_order")
	assert.False(t, idle.IsTerminal())
	assert.Equal(t, SagaID(1), idle.SagaID())
	assert.Equal(t, "prepare_order", idle.StepName())

	triggered := idle.Trigger("saga_started")
	assert.False(t, triggered.IsTerminal())
	assert.Equal(t, "saga_started", triggered.TriggeringEvent)

	executing := triggered.Execute()
	assert.False(t, executing.IsTerminal())
	assert.Equal(t, 1, executing.Attempt)

	completed := executing.Complete([]byte("output"), []byte("compensation"))
	assert.False(t, completed.IsTerminal())
	assert.Equal(t, []byte("output"), completed.Output)
	assert.Equal(t, []byte("compensation"), completed.CompensationData)

	compensating := completed.Compensate()
	assert.False(t, compensating.IsTerminal())
	assert.Equal(t, 1, compensating.Attempt)
	assert.Equal(t, []byte("compensation"), compensating.CompensationData)

	compensated := compensating.Complete()
	assert.True(t, compensated.IsTerminal())
}

// TestExecutingRetry 验证重试不经过 Triggered，attempt 逐次递增。
func TestExecutingRetry(t *testing.T) {
	executing := NewIdle(SagaID(2), "place_order").Trigger("e").Execute()
	require.Equal(t, 1, executing.Attempt)

	retried := executing.Retry()
	assert.Equal(t, 2, retried.Attempt)

	retriedAgain := retried.Retry()
	assert.Equal(t, 3, retriedAgain.Attempt)
}

// TestExecutingFail 验证失败阶段携带是否需要补偿的标记。
func TestExecutingFail(t *testing.T) {
	executing := NewIdle(SagaID(3), "place_order").Trigger("e").Execute()

	failed := executing.Fail("exchange rejected order", true)
	assert.False(t, failed.IsTerminal())
	assert.Equal(t, "exchange rejected order", failed.Error)
	assert.True(t, failed.RequiresCompensation)
}

// TestCompensatingRetryAndQuarantine 覆盖补偿路径的重试与隔离终态。
func TestCompensatingRetryAndQuarantine(t *testing.T) {
	compensating := NewIdle(SagaID(4), "place_order").
		Trigger("e").
		Execute().
		Complete([]byte("out"), []byte("comp")).
		Compensate()

	retried := compensating.Retry()
	assert.Equal(t, 2, retried.Attempt)

	quarantined := retried.Quarantine("exchange unreachable after max attempts")
	assert.True(t, quarantined.IsTerminal())
	assert.Equal(t, "exchange unreachable after max attempts", quarantined.Reason)
}

// TestEntryInterfaceErasure 验证每个阶段都能被类型擦除进 Entry，可在
// map[SagaID]Entry 里统一存放而不必关心具体阶段类型。
func TestEntryInterfaceErasure(t *testing.T) {
	var entries []Entry
	entries = append(entries, NewIdle(SagaID(5), "step"))
	entries = append(entries, NewIdle(SagaID(5), "step").Trigger("e"))
	entries = append(entries, NewIdle(SagaID(5), "step").Trigger("e").Execute())

	for _, e := range entries {
		assert.Equal(t, SagaID(5), e.SagaID())
		assert.False(t, e.IsTerminal())
	}
}

// TestTailEventBounded 验证审计尾迹在超过上限后只保留最近的记录。
func TestTailEventBounded(t *testing.T) {
	executing := NewIdle(SagaID(6), "step").Trigger("e").Execute()
	for i := 0; i < maxTail+10; i++ {
		executing = executing.Retry()
	}
	assert.LessOrEqual(t, len(executing.tail), maxTail)
}
