// Package typestate 把一个 saga 步骤的生命周期编码进类型系统。
//
// 每个阶段是一个独立的结构体，转换方法消费源阶段的值并产出目标阶段的值；
// 包内导出的函数只有 NewIdle 从零构造阶段值，其余阶段只能由转换方法产出，
// 也没有任何方法从 Idle 直接跳到 Compensating。非法的转换在编译期就不存在对应
// 的函数可以调用。阶段结构体本身是导出类型，包外仍可写出复合字面量（此时
// sagaID、stepName 等未导出字段为零值），这一点类型系统不阻止。
package typestate

import (
	"strconv"
	"time"
)

// SagaID 复用 saga 包的标识符类型定义（避免循环依赖，这里就是裸 int64）。
type SagaID int64

// Entry 是八个阶段结构体的类型擦除包装，用于在 map[SagaID]Entry 里统一存放。
type Entry interface {
	SagaID() SagaID
	StepName() string
	LastUpdatedAtMillis() int64
	IsTerminal() bool

	isEntry()
}

type base struct {
	sagaID        SagaID
	stepName      string
	lastUpdatedAt int64
	// tail 是最近事件的有界审计尾迹（journal 才是权威来源），避免长时间重试时无限增长。
	tail []TailEvent
}

// TailEvent 是状态尾迹中的一条时间戳化记录。
type TailEvent struct {
	AtMillis int64
	Label    string
}

const maxTail = 32

func (b base) SagaID() SagaID            { return b.sagaID }
func (b base) StepName() string          { return b.stepName }
func (b base) LastUpdatedAtMillis() int64 { return b.lastUpdatedAt }
func (b base) isEntry()                  {}

func (b *base) pushTail(label string, atMillis int64) []TailEvent {
	tail := append(b.tail, TailEvent{AtMillis: atMillis, Label: label})
	if len(tail) > maxTail {
		tail = tail[len(tail)-maxTail:]
	}
	return tail
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// ---- Idle ----

// Idle 是一个步骤还未被任何事件触发前的阶段。
type Idle struct {
	base
}

func (Idle) IsTerminal() bool { return false }

// NewIdle 是创建一条全新步骤状态的唯一入口。
func NewIdle(sagaID SagaID, stepName string) Idle {
	return Idle{base: base{sagaID: sagaID, stepName: stepName, lastUpdatedAt: nowMillis()}}
}

// Trigger 消费 Idle，产出 Triggered。
func (i Idle) Trigger(triggeringEvent string) Triggered {
	now := nowMillis()
	return Triggered{
		base: base{
			sagaID:        i.sagaID,
			stepName:      i.stepName,
			lastUpdatedAt: now,
			tail:          i.pushTail("triggered:"+triggeringEvent, now),
		},
		TriggeredAtMillis: now,
		TriggeringEvent:   triggeringEvent,
	}
}

// ---- Triggered ----

// Triggered 记录了触发该步骤的事件，尚未开始执行。
type Triggered struct {
	base
	TriggeredAtMillis int64
	TriggeringEvent   string
}

func (Triggered) IsTerminal() bool { return false }

// Execute 消费 Triggered，产出 Executing，attempt 从 1 开始。
func (t Triggered) Execute() Executing {
	now := nowMillis()
	return Executing{
		base: base{
			sagaID:        t.sagaID,
			stepName:      t.stepName,
			lastUpdatedAt: now,
			tail:          t.pushTail("executing:attempt=1", now),
		},
		StartedAtMillis: now,
		Attempt:         1,
	}
}

// ---- Executing ----

// Executing 表示参与者正在调用 ExecuteStep。
type Executing struct {
	base
	StartedAtMillis int64
	Attempt         int
}

func (Executing) IsTerminal() bool { return false }

// Retry 消费 Executing，产出一个 attempt+1 的新 Executing（重试不经过 Triggered）。
func (e Executing) Retry() Executing {
	now := nowMillis()
	next := e.Attempt + 1
	return Executing{
		base: base{
			sagaID:        e.sagaID,
			stepName:      e.stepName,
			lastUpdatedAt: now,
			tail:          e.pushTail("retry:attempt="+strconv.Itoa(next), now),
		},
		StartedAtMillis: now,
		Attempt:         next,
	}
}

// Complete 消费 Executing，产出 Completed。
func (e Executing) Complete(output, compensationData []byte) Completed {
	now := nowMillis()
	return Completed{
		base: base{
			sagaID:        e.sagaID,
			stepName:      e.stepName,
			lastUpdatedAt: now,
			tail:          e.pushTail("completed", now),
		},
		CompletedAtMillis: now,
		Output:            output,
		CompensationData:  compensationData,
	}
}

// Fail 消费 Executing，产出 Failed。
func (e Executing) Fail(errMsg string, requiresCompensation bool) Failed {
	now := nowMillis()
	return Failed{
		base: base{
			sagaID:        e.sagaID,
			stepName:      e.stepName,
			lastUpdatedAt: now,
			tail:          e.pushTail("failed", now),
		},
		FailedAtMillis:       now,
		Error:                errMsg,
		RequiresCompensation: requiresCompensation,
	}
}

// ---- Completed ----

// Completed 保存了前向步骤的输出和补偿所需的数据，直到 saga 到达终态为止。
type Completed struct {
	base
	CompletedAtMillis int64
	Output            []byte
	CompensationData  []byte
}

func (Completed) IsTerminal() bool { return false }

// Compensate 消费 Completed，产出 Compensating，attempt 从 1 开始。
func (c Completed) Compensate() Compensating {
	now := nowMillis()
	return Compensating{
		base: base{
			sagaID:        c.sagaID,
			stepName:      c.stepName,
			lastUpdatedAt: now,
			tail:          c.pushTail("compensating:attempt=1", now),
		},
		StartedAtMillis:  now,
		Attempt:          1,
		CompensationData: c.CompensationData,
	}
}

// ---- Failed ----

// Failed 是前向步骤失败后的阶段；RequiresCompensation 决定是否需要请求已完成前驱的补偿。
type Failed struct {
	base
	FailedAtMillis       int64
	Error                string
	RequiresCompensation bool
}

func (Failed) IsTerminal() bool { return false }

// ---- Compensating ----

// Compensating 表示参与者正在调用 CompensateStep。
type Compensating struct {
	base
	StartedAtMillis  int64
	Attempt          int
	CompensationData []byte
}

func (Compensating) IsTerminal() bool { return false }

// Retry 消费 Compensating，产出一个 attempt+1 的新 Compensating（SafeToRetry 路径）。
func (c Compensating) Retry() Compensating {
	now := nowMillis()
	next := c.Attempt + 1
	return Compensating{
		base: base{
			sagaID:        c.sagaID,
			stepName:      c.stepName,
			lastUpdatedAt: now,
			tail:          c.pushTail("compensate-retry:attempt="+strconv.Itoa(next), now),
		},
		StartedAtMillis:  now,
		Attempt:          next,
		CompensationData: c.CompensationData,
	}
}

// Complete 消费 Compensating，产出 Compensated（终态）。
func (c Compensating) Complete() Compensated {
	now := nowMillis()
	return Compensated{
		base: base{
			sagaID:        c.sagaID,
			stepName:      c.stepName,
			lastUpdatedAt: now,
			tail:          c.pushTail("compensated", now),
		},
		CompletedAtMillis: now,
	}
}

// Quarantine 消费 Compensating，产出 Quarantined（终态）。
func (c Compensating) Quarantine(reason string) Quarantined {
	now := nowMillis()
	return Quarantined{
		base: base{
			sagaID:        c.sagaID,
			stepName:      c.stepName,
			lastUpdatedAt: now,
			tail:          c.pushTail("quarantined:"+reason, now),
		},
		QuarantinedAtMillis: now,
		Reason:              reason,
	}
}

// ---- Compensated (terminal) ----

// Compensated 是补偿成功完成后的终态。
type Compensated struct {
	base
	CompletedAtMillis int64
}

func (Compensated) IsTerminal() bool { return true }

// ---- Quarantined (terminal) ----

// Quarantined 是补偿无法安全完成时的终态，需要人工介入。
type Quarantined struct {
	base
	QuarantinedAtMillis int64
	Reason              string
}

func (Quarantined) IsTerminal() bool { return true }
