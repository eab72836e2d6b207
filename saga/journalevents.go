package saga

// JournalEventType 枚举了追加到参与者本地日志中的事实类型。
// 这些与上面 wire 事件一一对应，但是本地真相来源：恢复流程只信任这些记录。
type JournalEventType string

const (
	JournalSagaRegistered        JournalEventType = "saga_registered"
	JournalStepTriggered         JournalEventType = "step_triggered"
	JournalStepExecutionStarted  JournalEventType = "step_execution_started"
	JournalStepExecutionCompleted JournalEventType = "step_execution_completed"
	JournalStepExecutionFailed   JournalEventType = "step_execution_failed"
	JournalCompensationStarted   JournalEventType = "compensation_started"
	JournalCompensationCompleted JournalEventType = "compensation_completed"
	JournalCompensationFailed    JournalEventType = "compensation_failed"
	JournalQuarantined           JournalEventType = "quarantined"
)

// JournalEvent 是写入 journal 的其中一个变体；Type 决定了哪些字段有意义。
// 用一个扁平结构体表示所有变体，字段按类型各自为政，换来序列化和存储的简单性——
// 这与参与者自身的 typestate（内存中严格区分阶段）是两回事：journal 只是事实记录。
type JournalEvent struct {
	Type JournalEventType

	// StepTriggered
	TriggeringEvent string
	// Input is the forward-step input this participant was triggered with
	// (SagaStarted.Payload or the predecessor StepCompleted.Output), journaled
	// so Recover can replay ExecuteStep with the original input instead of nil.
	Input []byte

	// StepExecutionStarted / CompensationStarted
	Attempt int

	// StepExecutionCompleted
	Output           []byte
	CompensationData []byte

	// StepExecutionFailed / CompensationFailed
	Error                string
	RequiresCompensation bool
	IsAmbiguous          bool

	// Quarantined
	Reason string
}
