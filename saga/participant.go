package saga

import (
	"context"
	"time"

	"github.com/icanact/saga-choreography/validation"
)

// DependencyKind 区分一个步骤等待触发的四种方式。
type DependencyKind int

const (
	// OnSagaStart 步骤在 saga 启动时立即触发（没有前驱）。
	OnSagaStart DependencyKind = iota
	// AfterStep 步骤在单个命名前驱完成后触发。
	AfterStep
	// AnyOfSteps 步骤在命名前驱集合中的任意一个完成后触发。
	AnyOfSteps
	// AllOfSteps 步骤在命名前驱集合全部完成后才触发，核心需要按 saga 跟踪
	// 哪些前驱已经完成（见 dispatcher.go 的 predecessorTracker）。
	AllOfSteps
)

// DependencySpec 声明了一个参与者的步骤何时应当运行。
type DependencySpec struct {
	Kind  DependencyKind
	Steps []string
}

// OnStart 构造一个无前驱依赖（saga 启动即触发）的依赖声明。
func OnStart() DependencySpec { return DependencySpec{Kind: OnSagaStart} }

// After 构造一个"紧跟在单个前驱之后"的依赖声明。
func After(step string) DependencySpec {
	return DependencySpec{Kind: AfterStep, Steps: []string{step}}
}

// AnyOf 构造一个"前驱集合中任意一个完成即可"的依赖声明。
func AnyOf(steps ...string) DependencySpec {
	return DependencySpec{Kind: AnyOfSteps, Steps: steps}
}

// AllOf 构造一个"前驱集合必须全部完成"的依赖声明。
func AllOf(steps ...string) DependencySpec {
	return DependencySpec{Kind: AllOfSteps, Steps: steps}
}

// Satisfies 判断 completedStep 的完成事件是否（在已知 alreadyCompleted 的前提下）
// 使该依赖被满足。alreadyCompleted 由调用方（dispatcher 的 predecessorTracker）
// 维护，AllOf 语义下它决定了"还差哪些步骤"。
func (d DependencySpec) Satisfies(completedStep string, alreadyCompleted map[string]bool) bool {
	switch d.Kind {
	case OnSagaStart:
		return false
	case AfterStep:
		return len(d.Steps) == 1 && d.Steps[0] == completedStep
	case AnyOfSteps:
		for _, s := range d.Steps {
			if s == completedStep {
				return true
			}
		}
		return false
	case AllOfSteps:
		found := false
		for _, s := range d.Steps {
			if s == completedStep {
				found = true
			}
			if s != completedStep && !alreadyCompleted[s] {
				return false
			}
		}
		return found
	default:
		return false
	}
}

// RetryPolicy 控制 Retriable 前向错误和 SafeToRetry 补偿错误的重试调度。
type RetryPolicy struct {
	MaxAttempts         int
	InitialDelay        time.Duration
	MaxDelay            time.Duration
	BackoffMultiplier   float64
}

// DefaultRetryPolicy 匹配常见交易类 saga 步骤的保守默认值。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Validate 校验重试策略本身的合法性，供参与者在注册时自检
// （例如避免把 MaxAttempts=0 误配成"从不重试"）。
func (p RetryPolicy) Validate() error {
	if err := validation.ValidatePositive(p.MaxAttempts, "max_attempts"); err != nil {
		return err
	}
	if err := validation.ValidatePositive(int(p.InitialDelay), "initial_delay"); err != nil {
		return err
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.InitialDelay {
		return validation.NewValidationError("max_delay must not be less than initial_delay")
	}
	return nil
}

// DelayForAttempt 返回第 attempt 次重试（attempt 从 1 开始计数下一次尝试）前应等待的时长。
func (p RetryPolicy) DelayForAttempt(attempt int) time.Duration {
	if attempt <= 1 {
		return p.InitialDelay
	}
	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.BackoffMultiplier
	}
	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Participant 是一个 saga 步骤的契约：实现方提供前向执行、补偿执行、
// 触发条件和重试策略，核心负责幂等投递、typestate 转换、持久化与重试调度。
type Participant interface {
	// StepName 是该参与者在其 saga 类型内的唯一步骤名。
	StepName() string

	// SagaTypes 列出该参与者参与的 saga 类型；其他类型的事件会被直接丢弃。
	SagaTypes() []string

	// DependsOn 声明该步骤何时应当触发。
	DependsOn() DependencySpec

	// ExecuteStep 执行前向步骤的业务逻辑。
	ExecuteStep(ctx context.Context, sagaCtx SagaContext, input []byte) (StepOutput, *StepError)

	// CompensateStep 执行该步骤的补偿逻辑；compensationData 来自对应的 StepOutput。
	CompensateStep(ctx context.Context, sagaCtx SagaContext, compensationData []byte) *CompensationError

	// RetryPolicy 控制前向重试与安全补偿重试的退避节奏。
	RetryPolicy() RetryPolicy

	// StepTimeout 是单次 ExecuteStep/CompensateStep 调用允许占用的最长时间；
	// 超时会被调度器转换为 Retriable 错误。
	StepTimeout() time.Duration

	// 生命周期钩子，默认实现见 BaseParticipant。
	OnSagaCompleted(ctx context.Context, sagaCtx SagaContext)
	OnSagaFailed(ctx context.Context, sagaCtx SagaContext, reason string)
	OnCompensationCompleted(ctx context.Context, sagaCtx SagaContext)
	OnQuarantined(ctx context.Context, sagaCtx SagaContext, reason string)
}

// BaseParticipant 提供生命周期钩子的空实现，供具体参与者通过内嵌复用，
// 只覆盖自己关心的钩子。
type BaseParticipant struct{}

func (BaseParticipant) OnSagaCompleted(ctx context.Context, sagaCtx SagaContext)                {}
func (BaseParticipant) OnSagaFailed(ctx context.Context, sagaCtx SagaContext, reason string)     {}
func (BaseParticipant) OnCompensationCompleted(ctx context.Context, sagaCtx SagaContext)         {}
func (BaseParticipant) OnQuarantined(ctx context.Context, sagaCtx SagaContext, reason string)    {}
