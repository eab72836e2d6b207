package saga

import (
	"context"
	"time"

	"github.com/icanact/saga-choreography/logging"
)

// Observer 接收参与者生命周期回调，用于对接遥测/告警；与业务逻辑完全解耦。
type Observer interface {
	OnSagaStarted(ctx context.Context, sagaCtx SagaContext)
	OnStepStarted(ctx context.Context, sagaCtx SagaContext)
	OnStepCompleted(ctx context.Context, sagaCtx SagaContext, duration time.Duration)
	OnStepFailed(ctx context.Context, sagaCtx SagaContext, reason string)
	OnCompensationStarted(ctx context.Context, sagaCtx SagaContext)
	OnCompensationCompleted(ctx context.Context, sagaCtx SagaContext)
	OnSagaCompleted(ctx context.Context, sagaCtx SagaContext)
	OnSagaFailed(ctx context.Context, sagaCtx SagaContext, reason string)
	OnSagaQuarantined(ctx context.Context, sagaCtx SagaContext, reason string)
}

// NoopObserver 丢弃所有回调；适合测试和未配置遥测的部署。
type NoopObserver struct{}

func (NoopObserver) OnSagaStarted(ctx context.Context, sagaCtx SagaContext)                          {}
func (NoopObserver) OnStepStarted(ctx context.Context, sagaCtx SagaContext)                          {}
func (NoopObserver) OnStepCompleted(ctx context.Context, sagaCtx SagaContext, d time.Duration)       {}
func (NoopObserver) OnStepFailed(ctx context.Context, sagaCtx SagaContext, reason string)            {}
func (NoopObserver) OnCompensationStarted(ctx context.Context, sagaCtx SagaContext)                  {}
func (NoopObserver) OnCompensationCompleted(ctx context.Context, sagaCtx SagaContext)                {}
func (NoopObserver) OnSagaCompleted(ctx context.Context, sagaCtx SagaContext)                        {}
func (NoopObserver) OnSagaFailed(ctx context.Context, sagaCtx SagaContext, reason string)             {}
func (NoopObserver) OnSagaQuarantined(ctx context.Context, sagaCtx SagaContext, reason string)        {}

// LoggingObserver 把生命周期事件转成结构化日志，作为非平凡 Observer 的参考实现。
type LoggingObserver struct {
	Logger logging.ILogger
}

// NewLoggingObserver 构造一个写入给定 logger 的 Observer。
func NewLoggingObserver(logger logging.ILogger) *LoggingObserver {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &LoggingObserver{Logger: logger.WithField("component", "saga")}
}

func (o *LoggingObserver) fields(sagaCtx SagaContext) []logging.Field {
	return []logging.Field{
		logging.Int64("saga_id", int64(sagaCtx.SagaID)),
		logging.String("saga_type", sagaCtx.SagaType),
		logging.String("step_name", sagaCtx.StepName),
		logging.Uint64("trace_id", sagaCtx.TraceID),
		logging.Int("attempt", sagaCtx.Attempt),
	}
}

func (o *LoggingObserver) OnSagaStarted(ctx context.Context, sagaCtx SagaContext) {
	o.Logger.Info(ctx, "saga started", o.fields(sagaCtx)...)
}

func (o *LoggingObserver) OnStepStarted(ctx context.Context, sagaCtx SagaContext) {
	o.Logger.Info(ctx, "step started", o.fields(sagaCtx)...)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, sagaCtx SagaContext, d time.Duration) {
	fields := append(o.fields(sagaCtx), logging.Duration("duration", d))
	o.Logger.Info(ctx, "step completed", fields...)
}

func (o *LoggingObserver) OnStepFailed(ctx context.Context, sagaCtx SagaContext, reason string) {
	fields := append(o.fields(sagaCtx), logging.String("reason", reason))
	o.Logger.Warn(ctx, "step failed", fields...)
}

func (o *LoggingObserver) OnCompensationStarted(ctx context.Context, sagaCtx SagaContext) {
	o.Logger.Info(ctx, "compensation started", o.fields(sagaCtx)...)
}

func (o *LoggingObserver) OnCompensationCompleted(ctx context.Context, sagaCtx SagaContext) {
	o.Logger.Info(ctx, "compensation completed", o.fields(sagaCtx)...)
}

func (o *LoggingObserver) OnSagaCompleted(ctx context.Context, sagaCtx SagaContext) {
	o.Logger.Info(ctx, "saga completed", o.fields(sagaCtx)...)
}

func (o *LoggingObserver) OnSagaFailed(ctx context.Context, sagaCtx SagaContext, reason string) {
	fields := append(o.fields(sagaCtx), logging.String("reason", reason))
	o.Logger.Error(ctx, "saga failed", fields...)
}

func (o *LoggingObserver) OnSagaQuarantined(ctx context.Context, sagaCtx SagaContext, reason string) {
	fields := append(o.fields(sagaCtx), logging.String("reason", reason))
	o.Logger.Error(ctx, "saga quarantined", fields...)
}
