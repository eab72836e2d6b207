// Package saga 实现了一个基于编排（choreography）而非编排者（orchestration）
// 的 saga 运行时核心：参与者响应发布出来的事件各自推进，不存在中心协调者。
package saga

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/icanact/saga-choreography/codegen/snowflake"
	"github.com/icanact/saga-choreography/errors"
	"github.com/icanact/saga-choreography/validation"
)

// SagaID 是一次 saga 执行的不透明标识符。初始化 saga 的一方通常通过 NewSagaID
// 取值（雪花算法，见 codegen/snowflake），跨进程分布式唯一；参与者自身只消费
// 已经存在的 SagaID，从不自行铸造。
type SagaID int64

// NewSagaID 为一次新发起的 saga 分配一个跨进程唯一的标识符。
func NewSagaID() (SagaID, error) {
	id, err := snowflake.NextID()
	if err != nil {
		return 0, errors.WrapError(err, errors.ErrCodeInternal, "failed to generate saga id")
	}
	return SagaID(id), nil
}

// PeerID 标识发起 saga 的进程，由两个 UUID v4 拼接而成（32 字节）。
type PeerID [32]byte

// NewPeerID 在进程启动时调用一次，生成该进程的发起者身份。
func NewPeerID() PeerID {
	var id PeerID
	a := uuid.New()
	b := uuid.New()
	copy(id[0:16], a[:])
	copy(id[16:32], b[:])
	return id
}

// traceCounter 是进程范围内的单调计数器，为每个 saga 事件分配严格递增的 trace_id。
var traceCounter uint64

func nextTraceID() uint64 {
	return atomic.AddUint64(&traceCounter, 1)
}

// SagaContext 是随每个事件传递的不可变信封。
type SagaContext struct {
	SagaID              SagaID
	SagaType            string
	StepName            string
	CorrelationID       SagaID
	CausationID         uint64
	TraceID             uint64
	StepIndex           int
	Attempt             int
	InitiatorPeerID     PeerID
	SagaStartedAtMillis int64
	EventTimestampMillis int64
}

// NewSagaContext 构造一次 saga 执行的起始上下文（OnSagaStart 之前）。
func NewSagaContext(sagaID SagaID, sagaType, stepName string, initiator PeerID) SagaContext {
	now := time.Now().UnixMilli()
	return SagaContext{
		SagaID:               sagaID,
		SagaType:             sagaType,
		StepName:             stepName,
		CorrelationID:        sagaID,
		CausationID:          0,
		TraceID:              nextTraceID(),
		StepIndex:            0,
		Attempt:              0,
		InitiatorPeerID:      initiator,
		SagaStartedAtMillis:  now,
		EventTimestampMillis: now,
	}
}

// NextStep 推进到下一个步骤：causation_id 回指旧的 trace_id，分配新的 trace_id，
// step_index 自增，attempt 归零。
func (c SagaContext) NextStep(stepName string) SagaContext {
	next := c
	next.StepName = stepName
	next.CausationID = c.TraceID
	next.TraceID = nextTraceID()
	next.StepIndex = c.StepIndex + 1
	next.Attempt = 0
	next.EventTimestampMillis = time.Now().UnixMilli()
	return next
}

// Retry 产出同一步骤的重试上下文：attempt 自增，trace_id 刷新。
func (c SagaContext) Retry() SagaContext {
	next := c
	next.Attempt = c.Attempt + 1
	next.TraceID = nextTraceID()
	next.EventTimestampMillis = time.Now().UnixMilli()
	return next
}

// ForCompensation 产出补偿用的上下文：causation_id 回指旧的 trace_id，trace_id 刷新，
// step_name 保持不变（补偿的是同一个步骤）。
func (c SagaContext) ForCompensation() SagaContext {
	next := c
	next.CausationID = c.TraceID
	next.TraceID = nextTraceID()
	next.EventTimestampMillis = time.Now().UnixMilli()
	return next
}

// DedupeKey 返回用于幂等消费检查的规范键："<trace_id>:<event_type>"。
func (c SagaContext) DedupeKey(eventType string) string {
	return strconv.FormatUint(c.TraceID, 10) + ":" + eventType
}

// Validate 校验上下文的最小有效性（saga_id 为正、saga_type/step_name 非空）。
func (c SagaContext) Validate() error {
	if err := validation.ValidateID(int64(c.SagaID), "saga_id"); err != nil {
		return err
	}
	if err := validation.ValidateRequired(c.SagaType, "saga_type"); err != nil {
		return err
	}
	if err := validation.ValidateRequired(c.StepName, "step_name"); err != nil {
		return err
	}
	return nil
}

// IdempotencyKeyForStep 构造一次前向步骤调用的应用层幂等键，推荐用于参与者对外部
// 系统发起的真实调用（下单、扣款等），弥补默认内存去重存储在进程崩溃后清空的缺口。
func IdempotencyKeyForStep(sagaID SagaID, stepName string, attempt int) string {
	return "saga:" + strconv.FormatInt(int64(sagaID), 10) + ":step:" + stepName + ":attempt:" + strconv.Itoa(attempt)
}

// IdempotencyKeyForCompensation 构造一次补偿调用的应用层幂等键。
func IdempotencyKeyForCompensation(sagaID SagaID, stepName string) string {
	return "saga:" + strconv.FormatInt(int64(sagaID), 10) + ":compensate:" + stepName
}
