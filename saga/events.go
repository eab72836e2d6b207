package saga

import (
	"strconv"
	"time"

	"github.com/icanact/saga-choreography/messaging"
)

// EventType 枚举了编排总线上流转的 saga 事件类型。
type EventType string

const (
	EventSagaStarted          EventType = "saga.started"
	EventStepStarted          EventType = "saga.step_started"
	EventStepCompleted        EventType = "saga.step_completed"
	EventStepFailed           EventType = "saga.step_failed"
	EventCompensationRequested EventType = "saga.compensation_requested"
	EventCompensationStarted  EventType = "saga.compensation_started"
	EventCompensationCompleted EventType = "saga.compensation_completed"
	EventCompensationFailed   EventType = "saga.compensation_failed"
	EventSagaQuarantined      EventType = "saga.quarantined"
	EventSagaCompleted        EventType = "saga.completed"
	EventSagaFailed           EventType = "saga.failed"
	EventStepAck              EventType = "saga.step_ack"
)

// Topic 返回某个 saga 类型对应的传输主题。
func Topic(sagaType string) string {
	return "saga:" + sagaType
}

// ChoreographyEvent 是所有编排事件共同满足的契约；每个事件都携带一份
// SagaContext，并额外实现 messaging.IMessage 以便不加改造地搭乘通用消息总线。
type ChoreographyEvent interface {
	messaging.IMessage

	Context() SagaContext
	EventType() EventType
}

// envelope 是每个具体事件变体共享的 messaging.IMessage 实现，避免重复样板代码。
type envelope struct {
	id        string
	eventType EventType
	ctx       SagaContext
	timestamp time.Time
	metadata  map[string]interface{}
}

func newEnvelope(ctx SagaContext, eventType EventType) envelope {
	return envelope{
		id:        strconv.FormatUint(ctx.TraceID, 10),
		eventType: eventType,
		ctx:       ctx,
		timestamp: time.UnixMilli(ctx.EventTimestampMillis),
		metadata: map[string]interface{}{
			"saga_id":        int64(ctx.SagaID),
			"saga_type":      ctx.SagaType,
			"step_name":      ctx.StepName,
			"correlation_id": int64(ctx.CorrelationID),
			"causation_id":   ctx.CausationID,
			"trace_id":       ctx.TraceID,
		},
	}
}

func (e envelope) GetID() string { return e.id }

// GetType 返回该事件所属 saga 类型的传输主题（而不是具体事件种类），
// 使总线按 Topic(saga_type) 路由——同一 saga 类型下的全部事件种类
// 共享一个订阅，参与者通过 Handle 的类型分支（见 dispatcher.go）
// 再按具体种类分派。具体事件种类见 EventType()。
func (e envelope) GetType() string                     { return Topic(e.ctx.SagaType) }
func (e envelope) GetTimestamp() time.Time             { return e.timestamp }
func (e envelope) GetMetadata() map[string]interface{} { return e.metadata }
func (e envelope) Context() SagaContext                { return e.ctx }
func (e envelope) EventType() EventType                { return e.eventType }

// SagaStarted 标志一次 saga 执行的开始，由发起者发布。
type SagaStarted struct {
	envelope
	Payload []byte
}

func (e SagaStarted) GetPayload() interface{} { return e.Payload }

func NewSagaStarted(ctx SagaContext, payload []byte) SagaStarted {
	return SagaStarted{envelope: newEnvelope(ctx, EventSagaStarted), Payload: payload}
}

// StepStarted 标志某个参与者开始执行其步骤。
type StepStarted struct {
	envelope
}

func (e StepStarted) GetPayload() interface{} { return nil }

func NewStepStarted(ctx SagaContext) StepStarted {
	return StepStarted{envelope: newEnvelope(ctx, EventStepStarted)}
}

// StepCompleted 标志一个步骤成功完成，携带输出供后继步骤消费。
type StepCompleted struct {
	envelope
	Output                []byte
	CompensationAvailable bool
}

func (e StepCompleted) GetPayload() interface{} { return e.Output }

func NewStepCompleted(ctx SagaContext, output []byte, compensationAvailable bool) StepCompleted {
	return StepCompleted{
		envelope:              newEnvelope(ctx, EventStepCompleted),
		Output:                output,
		CompensationAvailable: compensationAvailable,
	}
}

// StepFailed 标志一个步骤失败。
type StepFailed struct {
	envelope
	Error                string
	WillRetry            bool
	RequiresCompensation bool
}

func (e StepFailed) GetPayload() interface{} { return e.Error }

func NewStepFailed(ctx SagaContext, errMsg string, willRetry, requiresCompensation bool) StepFailed {
	return StepFailed{
		envelope:             newEnvelope(ctx, EventStepFailed),
		Error:                errMsg,
		WillRetry:            willRetry,
		RequiresCompensation: requiresCompensation,
	}
}

// CompensationRequested 要求一组已完成的前驱步骤运行补偿。
type CompensationRequested struct {
	envelope
	FailedStep        string
	Reason            string
	StepsToCompensate []string
}

func (e CompensationRequested) GetPayload() interface{} { return e.StepsToCompensate }

func NewCompensationRequested(ctx SagaContext, failedStep, reason string, stepsToCompensate []string) CompensationRequested {
	return CompensationRequested{
		envelope:          newEnvelope(ctx, EventCompensationRequested),
		FailedStep:        failedStep,
		Reason:            reason,
		StepsToCompensate: stepsToCompensate,
	}
}

// CompensationStarted 标志某个参与者开始运行补偿。
type CompensationStarted struct {
	envelope
}

func (e CompensationStarted) GetPayload() interface{} { return nil }

func NewCompensationStarted(ctx SagaContext) CompensationStarted {
	return CompensationStarted{envelope: newEnvelope(ctx, EventCompensationStarted)}
}

// CompensationCompleted 标志补偿成功完成。
type CompensationCompleted struct {
	envelope
}

func (e CompensationCompleted) GetPayload() interface{} { return nil }

func NewCompensationCompleted(ctx SagaContext) CompensationCompleted {
	return CompensationCompleted{envelope: newEnvelope(ctx, EventCompensationCompleted)}
}

// CompensationFailed 标志补偿失败（安全重试之外的情形）。
type CompensationFailed struct {
	envelope
	Error      string
	IsAmbiguous bool
}

func (e CompensationFailed) GetPayload() interface{} { return e.Error }

func NewCompensationFailed(ctx SagaContext, errMsg string, isAmbiguous bool) CompensationFailed {
	return CompensationFailed{
		envelope:    newEnvelope(ctx, EventCompensationFailed),
		Error:       errMsg,
		IsAmbiguous: isAmbiguous,
	}
}

// SagaQuarantined 标志一个步骤进入隔离终态，需要人工介入。
type SagaQuarantined struct {
	envelope
	Step   string
	Reason string
}

func (e SagaQuarantined) GetPayload() interface{} { return e.Reason }

func NewSagaQuarantined(ctx SagaContext, step, reason string) SagaQuarantined {
	return SagaQuarantined{envelope: newEnvelope(ctx, EventSagaQuarantined), Step: step, Reason: reason}
}

// SagaCompleted 标志整个 saga 成功完成。
type SagaCompleted struct {
	envelope
}

func (e SagaCompleted) GetPayload() interface{} { return nil }

func NewSagaCompleted(ctx SagaContext) SagaCompleted {
	return SagaCompleted{envelope: newEnvelope(ctx, EventSagaCompleted)}
}

// SagaFailed 标志整个 saga 以失败告终（不再补偿）。
type SagaFailed struct {
	envelope
	Reason string
}

func (e SagaFailed) GetPayload() interface{} { return e.Reason }

func NewSagaFailed(ctx SagaContext, reason string) SagaFailed {
	return SagaFailed{envelope: newEnvelope(ctx, EventSagaFailed), Reason: reason}
}

// StepAck 是参与者之间可选的确认事件，便于观测通道畅通。
type StepAck struct {
	envelope
	ParticipantID string
	Status        string
}

func (e StepAck) GetPayload() interface{} { return e.Status }

func NewStepAck(ctx SagaContext, participantID, status string) StepAck {
	return StepAck{envelope: newEnvelope(ctx, EventStepAck), ParticipantID: participantID, Status: status}
}
