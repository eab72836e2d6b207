package saga

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJournal is an in-package JournalAppender fake (saga/journal can't be
// imported here: it imports saga for SagaID/JournalEvent).
type fakeJournal struct {
	mu      sync.Mutex
	entries []JournalEvent
}

func (f *fakeJournal) Append(ctx context.Context, sagaID SagaID, event JournalEvent) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, event)
	return uint64(len(f.entries)), nil
}

func (f *fakeJournal) types() []JournalEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]JournalEventType, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Type
	}
	return out
}

// fakeDedupe is an in-package DedupeGate fake, keyed per saga_id like the
// real dedupe.Memory so that Prune can actually drop a saga's keys.
type fakeDedupe struct {
	mu   sync.Mutex
	seen map[SagaID]map[string]bool
}

func newFakeDedupe() *fakeDedupe { return &fakeDedupe{seen: make(map[SagaID]map[string]bool)} }

func (f *fakeDedupe) CheckAndMark(ctx context.Context, sagaID SagaID, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys, ok := f.seen[sagaID]
	if !ok {
		keys = make(map[string]bool)
		f.seen[sagaID] = keys
	}
	if keys[key] {
		return false, nil
	}
	keys[key] = true
	return true, nil
}

func (f *fakeDedupe) Prune(ctx context.Context, sagaID SagaID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, sagaID)
	return nil
}

// fakePublisher records every published ChoreographyEvent.
type fakePublisher struct {
	mu        sync.Mutex
	published []ChoreographyEvent
}

func (f *fakePublisher) Publish(ctx context.Context, event ChoreographyEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, event)
	return nil
}

func (f *fakePublisher) events() []ChoreographyEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ChoreographyEvent, len(f.published))
	copy(out, f.published)
	return out
}

// stubParticipant is a minimal Participant implementation driven entirely by
// injectable funcs, for exercising the dispatcher in isolation.
type stubParticipant struct {
	BaseParticipant
	stepName  string
	sagaTypes []string
	dependsOn DependencySpec
	retry     RetryPolicy
	timeout   time.Duration

	executeFunc func(ctx context.Context, sagaCtx SagaContext, input []byte) (StepOutput, *StepError)
	compensateFunc func(ctx context.Context, sagaCtx SagaContext, data []byte) *CompensationError
}

func (p *stubParticipant) StepName() string           { return p.stepName }
func (p *stubParticipant) SagaTypes() []string         { return p.sagaTypes }
func (p *stubParticipant) DependsOn() DependencySpec   { return p.dependsOn }
func (p *stubParticipant) RetryPolicy() RetryPolicy    { return p.retry }
func (p *stubParticipant) StepTimeout() time.Duration  { return p.timeout }

func (p *stubParticipant) ExecuteStep(ctx context.Context, sagaCtx SagaContext, input []byte) (StepOutput, *StepError) {
	if p.executeFunc != nil {
		return p.executeFunc(ctx, sagaCtx, input)
	}
	return StepOutput{Output: input}, nil
}

func (p *stubParticipant) CompensateStep(ctx context.Context, sagaCtx SagaContext, data []byte) *CompensationError {
	if p.compensateFunc != nil {
		return p.compensateFunc(ctx, sagaCtx, data)
	}
	return nil
}

func newTestSagaContext(sagaID SagaID, sagaType, stepName string) SagaContext {
	return NewSagaContext(sagaID, sagaType, stepName, NewPeerID())
}

// TestDispatcher_SagaStartedTriggersExecuteOnStart 验证 OnStart 依赖的参与者
// 在收到 SagaStarted 时直接触发执行，并最终发布 StepCompleted。
func TestDispatcher_SagaStartedTriggersExecuteOnStart(t *testing.T) {
	p := &stubParticipant{
		stepName:  "prepare_order",
		sagaTypes: []string{"deribit_order"},
		dependsOn: OnStart(),
		retry:     DefaultRetryPolicy(),
		executeFunc: func(ctx context.Context, sagaCtx SagaContext, input []byte) (StepOutput, *StepError) {
			return StepOutput{Output: []byte{0xCA, 0xFE}, CompensationData: []byte{0xCA, 0xFE}}, nil
		},
	}
	j := &fakeJournal{}
	pub := &fakePublisher{}
	d := NewDispatcher(p, j, newFakeDedupe(), pub, nil)

	sagaCtx := newTestSagaContext(SagaID(42), "deribit_order", "")
	err := d.Handle(context.Background(), NewSagaStarted(sagaCtx, []byte("order-intent")))
	require.NoError(t, err)

	events := pub.events()
	require.Len(t, events, 1)
	completed, ok := events[0].(StepCompleted)
	require.True(t, ok)
	assert.Equal(t, []byte{0xCA, 0xFE}, completed.Output)
	assert.True(t, completed.CompensationAvailable)
}

// TestDispatcher_IgnoresUnrelatedSagaType 验证 sagaTypes 过滤：参与者只处理自己
// 登记的 saga 类型，其他类型的事件被直接丢弃，不计入 relevant 统计。
func TestDispatcher_IgnoresUnrelatedSagaType(t *testing.T) {
	p := &stubParticipant{
		stepName:  "prepare_order",
		sagaTypes: []string{"deribit_order"},
		dependsOn: OnStart(),
		retry:     DefaultRetryPolicy(),
	}
	pub := &fakePublisher{}
	d := NewDispatcher(p, &fakeJournal{}, newFakeDedupe(), pub, nil)

	sagaCtx := newTestSagaContext(SagaID(1), "unrelated_saga", "")
	err := d.Handle(context.Background(), NewSagaStarted(sagaCtx, nil))
	require.NoError(t, err)

	assert.Empty(t, pub.events())
	assert.Equal(t, uint64(0), d.Stats().EventsRelevant)
}

// TestDispatcher_DuplicateEventIsDropped 验证重复投递的同一事件（同 trace_id +
// 同 event kind）被去重存储拦下，第二次不会重复执行参与者逻辑。
func TestDispatcher_DuplicateEventIsDropped(t *testing.T) {
	var calls int
	p := &stubParticipant{
		stepName:  "prepare_order",
		sagaTypes: []string{"deribit_order"},
		dependsOn: OnStart(),
		retry:     DefaultRetryPolicy(),
		executeFunc: func(ctx context.Context, sagaCtx SagaContext, input []byte) (StepOutput, *StepError) {
			calls++
			return StepOutput{Output: input, CompensationData: input}, nil
		},
	}
	d := NewDispatcher(p, &fakeJournal{}, newFakeDedupe(), &fakePublisher{}, nil)

	sagaCtx := newTestSagaContext(SagaID(1), "deribit_order", "")
	event := NewSagaStarted(sagaCtx, []byte("x"))

	require.NoError(t, d.Handle(context.Background(), event))
	require.NoError(t, d.Handle(context.Background(), event))

	assert.Equal(t, 1, calls)
}

// TestDispatcher_AfterDependencyTriggersOnPredecessorCompletion 验证 After()
// 依赖在前驱的 StepCompleted 到达后才触发，并把前驱的输出作为输入传递下去。
func TestDispatcher_AfterDependencyTriggersOnPredecessorCompletion(t *testing.T) {
	p := &stubParticipant{
		stepName:  "place_order",
		sagaTypes: []string{"deribit_order"},
		dependsOn: After("prepare_order"),
		retry:     DefaultRetryPolicy(),
		executeFunc: func(ctx context.Context, sagaCtx SagaContext, input []byte) (StepOutput, *StepError) {
			assert.Equal(t, []byte{0xCA, 0xFE}, input)
			return StepOutput{Output: []byte{0xD0, 0x0D}, CompensationData: []byte{0xD0, 0x0D}}, nil
		},
	}
	pub := &fakePublisher{}
	d := NewDispatcher(p, &fakeJournal{}, newFakeDedupe(), pub, nil)

	prepareCtx := newTestSagaContext(SagaID(42), "deribit_order", "prepare_order")
	stepCompleted := NewStepCompleted(prepareCtx, []byte{0xCA, 0xFE}, true)

	require.NoError(t, d.Handle(context.Background(), stepCompleted))

	events := pub.events()
	require.Len(t, events, 1)
	completed := events[0].(StepCompleted)
	assert.Equal(t, []byte{0xD0, 0x0D}, completed.Output)
}

// TestDispatcher_RetriableErrorSchedulesRetry 验证 Retriable 错误在尝试次数未
// 耗尽时不会立刻发布 StepFailed，而是安排一次延迟重试。
func TestDispatcher_RetriableErrorSchedulesRetry(t *testing.T) {
	var attempts int32
	p := &stubParticipant{
		stepName:  "place_order",
		sagaTypes: []string{"deribit_order"},
		dependsOn: OnStart(),
		retry:     RetryPolicy{MaxAttempts: 3, InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, BackoffMultiplier: 2},
		executeFunc: func(ctx context.Context, sagaCtx SagaContext, input []byte) (StepOutput, *StepError) {
			attempts++
			if attempts < 3 {
				return StepOutput{}, RetriableStepError("exchange unreachable")
			}
			return StepOutput{Output: []byte{0xD0, 0x0D}, CompensationData: []byte{0xD0, 0x0D}}, nil
		},
	}
	pub := &fakePublisher{}
	d := NewDispatcher(p, &fakeJournal{}, newFakeDedupe(), pub, nil)

	sagaCtx := newTestSagaContext(SagaID(1), "deribit_order", "")
	require.NoError(t, d.Handle(context.Background(), NewSagaStarted(sagaCtx, nil)))

	require.Eventually(t, func() bool {
		return len(pub.events()) == 1
	}, time.Second, 5*time.Millisecond)

	events := pub.events()
	completed, ok := events[0].(StepCompleted)
	require.True(t, ok)
	assert.Equal(t, []byte{0xD0, 0x0D}, completed.Output)
	assert.Equal(t, int32(3), attempts)
}

// TestDispatcher_TerminalErrorPublishesStepFailedWithoutRetry 验证 Terminal
// 错误立即发布 StepFailed 且不要求补偿，从不安排重试。
func TestDispatcher_TerminalErrorPublishesStepFailedWithoutRetry(t *testing.T) {
	p := &stubParticipant{
		stepName:  "prepare_order",
		sagaTypes: []string{"deribit_order"},
		dependsOn: OnStart(),
		retry:     DefaultRetryPolicy(),
		executeFunc: func(ctx context.Context, sagaCtx SagaContext, input []byte) (StepOutput, *StepError) {
			return StepOutput{}, TerminalStepError("invalid order payload")
		},
	}
	pub := &fakePublisher{}
	d := NewDispatcher(p, &fakeJournal{}, newFakeDedupe(), pub, nil)

	sagaCtx := newTestSagaContext(SagaID(1), "deribit_order", "")
	require.NoError(t, d.Handle(context.Background(), NewSagaStarted(sagaCtx, nil)))

	events := pub.events()
	require.Len(t, events, 1)
	failed, ok := events[0].(StepFailed)
	require.True(t, ok)
	assert.Equal(t, "invalid order payload", failed.Error)
	assert.False(t, failed.RequiresCompensation)
}

// TestDispatcher_RequireCompensationErrorAlsoRequestsCompensation 验证
// RequireCompensation 错误除了发布 StepFailed，还会额外发布
// CompensationRequested（列出本步骤声明的前驱步骤，由它们执行补偿）。
func TestDispatcher_RequireCompensationErrorAlsoRequestsCompensation(t *testing.T) {
	p := &stubParticipant{
		stepName:  "place_order",
		sagaTypes: []string{"deribit_order"},
		dependsOn: After("prepare_order"),
		retry:     DefaultRetryPolicy(),
		executeFunc: func(ctx context.Context, sagaCtx SagaContext, input []byte) (StepOutput, *StepError) {
			return StepOutput{}, RequireCompensationStepError("exchange accepted then rejected")
		},
	}
	pub := &fakePublisher{}
	d := NewDispatcher(p, &fakeJournal{}, newFakeDedupe(), pub, nil)

	prepareCtx := newTestSagaContext(SagaID(1), "deribit_order", "prepare_order")
	require.NoError(t, d.Handle(context.Background(), NewStepCompleted(prepareCtx, []byte{0xCA, 0xFE}, true)))

	events := pub.events()
	require.Len(t, events, 2)
	failed := events[0].(StepFailed)
	assert.True(t, failed.RequiresCompensation)
	compReq := events[1].(CompensationRequested)
	assert.Equal(t, []string{"prepare_order"}, compReq.StepsToCompensate)
}

// TestDispatcher_CompensationRequestedTriggersCompensateOnlyForOwnStep 验证
// CompensationRequested 只触发与 StepsToCompensate 匹配的参与者自身步骤的补偿。
func TestDispatcher_CompensationRequestedTriggersCompensateOnlyForOwnStep(t *testing.T) {
	var compensated bool
	p := &stubParticipant{
		stepName:  "prepare_order",
		sagaTypes: []string{"deribit_order"},
		dependsOn: OnStart(),
		retry:     DefaultRetryPolicy(),
		executeFunc: func(ctx context.Context, sagaCtx SagaContext, input []byte) (StepOutput, *StepError) {
			return StepOutput{Output: []byte{0xCA, 0xFE}, CompensationData: []byte{0xCA, 0xFE}}, nil
		},
		compensateFunc: func(ctx context.Context, sagaCtx SagaContext, data []byte) *CompensationError {
			compensated = true
			assert.Equal(t, []byte{0xCA, 0xFE}, data)
			return nil
		},
	}
	pub := &fakePublisher{}
	d := NewDispatcher(p, &fakeJournal{}, newFakeDedupe(), pub, nil)

	ctx := context.Background()
	sagaCtx := newTestSagaContext(SagaID(1), "deribit_order", "")
	require.NoError(t, d.Handle(ctx, NewSagaStarted(sagaCtx, nil)))

	// a step this participant doesn't own: must not trigger compensation.
	require.NoError(t, d.Handle(ctx, NewCompensationRequested(sagaCtx, "place_order", "downstream failure", []string{"place_order"})))
	assert.False(t, compensated)

	// its own step: must trigger compensation with the stored compensation data.
	require.NoError(t, d.Handle(ctx, NewCompensationRequested(sagaCtx, "place_order", "downstream failure", []string{"prepare_order"})))
	assert.True(t, compensated)
}

// TestDispatcher_AllOfDependencyWaitsForEveryPredecessor 验证 AllOf 依赖要
// 等全部命名前驱都完成才触发，单个前驱完成不足以触发。
func TestDispatcher_AllOfDependencyWaitsForEveryPredecessor(t *testing.T) {
	p := &stubParticipant{
		stepName:  "settle",
		sagaTypes: []string{"deribit_order"},
		dependsOn: AllOf("prepare_order", "place_order"),
		retry:     DefaultRetryPolicy(),
	}
	pub := &fakePublisher{}
	d := NewDispatcher(p, &fakeJournal{}, newFakeDedupe(), pub, nil)
	ctx := context.Background()

	prepareCtx := newTestSagaContext(SagaID(1), "deribit_order", "prepare_order")
	require.NoError(t, d.Handle(ctx, NewStepCompleted(prepareCtx, nil, false)))
	assert.Empty(t, pub.events(), "must not trigger until place_order also completes")

	placeCtx := newTestSagaContext(SagaID(1), "deribit_order", "place_order")
	require.NoError(t, d.Handle(ctx, NewStepCompleted(placeCtx, nil, false)))
	assert.NotEmpty(t, pub.events(), "must trigger once every AllOf predecessor has completed")
}

// TestDispatcher_SagaCompletedCleansUpDedupeState 验证终态事件会清理去重状态，
// 使同一 saga_id 未来若被重用（理论上不应发生，但测试防御性清理是否生效）不会
// 因残留的 dedupe key 而被错误丢弃。
func TestDispatcher_SagaCompletedCleansUpDedupeState(t *testing.T) {
	p := &stubParticipant{
		stepName:  "prepare_order",
		sagaTypes: []string{"deribit_order"},
		dependsOn: OnStart(),
		retry:     DefaultRetryPolicy(),
	}
	dedupe := newFakeDedupe()
	d := NewDispatcher(p, &fakeJournal{}, dedupe, &fakePublisher{}, nil)

	sagaCtx := newTestSagaContext(SagaID(1), "deribit_order", "")
	require.NoError(t, d.Handle(context.Background(), NewSagaCompleted(sagaCtx)))

	dedupe.mu.Lock()
	_, stillPresent := dedupe.seen[sagaCtx.SagaID]
	dedupe.mu.Unlock()
	assert.False(t, stillPresent, "cleanup must prune the saga's dedupe state")
}
