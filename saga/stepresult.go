package saga

// StepOutput 是 ExecuteStep 成功时返回的载荷。
type StepOutput struct {
	// Output 传递给依赖本步骤的后继步骤作为输入。
	Output []byte

	// CompensationData 在补偿阶段原样传回 CompensateStep；即使为空也必须显式
	// 携带真实数据，绝不能因为"之后大概率用不到"而写成空切片。
	CompensationData []byte

	// Effect 非空时表示一个带副作用标签的完成（CompletedWithEffect），
	// 供观察者/统计区分"纯函数式完成"与"触发了外部副作用的完成"。
	Effect string
}

// StepErrorKind 区分三种前向步骤失败的处理方式。
type StepErrorKind int

const (
	// StepRetriable 是瞬时错误：按 RetryPolicy 安排重试。
	StepRetriable StepErrorKind = iota
	// StepTerminal 是永久错误：saga 失败，不需要补偿（本步骤未产生外部副作用）。
	StepTerminal
	// StepRequireCompensation 是永久错误：saga 失败，需要补偿已完成的前驱步骤。
	StepRequireCompensation
)

// StepError 是 ExecuteStep 失败时返回的分类错误。
type StepError struct {
	Kind   StepErrorKind
	Reason string
}

func (e *StepError) Error() string { return e.Reason }

// RetriableStepError 构造一个瞬时错误。
func RetriableStepError(reason string) *StepError {
	return &StepError{Kind: StepRetriable, Reason: reason}
}

// TerminalStepError 构造一个永久、无需补偿的错误。
func TerminalStepError(reason string) *StepError {
	return &StepError{Kind: StepTerminal, Reason: reason}
}

// RequireCompensationStepError 构造一个触发补偿的永久错误。
func RequireCompensationStepError(reason string) *StepError {
	return &StepError{Kind: StepRequireCompensation, Reason: reason}
}

// CompensationErrorKind 区分三种补偿失败的处理方式。
type CompensationErrorKind int

const (
	// CompensationSafeToRetry 表示外部副作用尚未生效，补偿可以安全重试。
	CompensationSafeToRetry CompensationErrorKind = iota
	// CompensationAmbiguous 表示外部副作用是否生效不确定：隔离，等待人工介入。
	CompensationAmbiguous
	// CompensationTerminal 表示补偿本身不可能完成：隔离，等待人工介入。
	CompensationTerminal
)

// CompensationError 是 CompensateStep 失败时返回的分类错误。
type CompensationError struct {
	Kind   CompensationErrorKind
	Reason string
}

func (e *CompensationError) Error() string { return e.Reason }

// SafeToRetryCompensationError 构造一个可安全重试的补偿错误。
func SafeToRetryCompensationError(reason string) *CompensationError {
	return &CompensationError{Kind: CompensationSafeToRetry, Reason: reason}
}

// AmbiguousCompensationError 构造一个结果不确定、需要隔离的补偿错误。
func AmbiguousCompensationError(reason string) *CompensationError {
	return &CompensationError{Kind: CompensationAmbiguous, Reason: reason}
}

// TerminalCompensationError 构造一个不可恢复、需要隔离的补偿错误。
func TerminalCompensationError(reason string) *CompensationError {
	return &CompensationError{Kind: CompensationTerminal, Reason: reason}
}
