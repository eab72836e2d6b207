package saga

import "sync/atomic"

// ParticipantStats 持有一个参与者进程范围内的计数器。
// 计数器本身只有相对顺序的要求（不需要 happens-before），因此用独立的原子变量，
// 不加互斥锁。
type ParticipantStats struct {
	eventsReceived        atomic.Uint64
	eventsRelevant        atomic.Uint64
	duplicateEvents       atomic.Uint64
	stepsStarted          atomic.Uint64
	stepsCompleted        atomic.Uint64
	stepsFailed           atomic.Uint64
	compensationsStarted  atomic.Uint64
	compensationsCompleted atomic.Uint64
	quarantinedSagas      atomic.Uint64
}

// StatsSnapshot 是某一时刻统计计数器的只读拷贝。
type StatsSnapshot struct {
	EventsReceived         uint64
	EventsRelevant         uint64
	DuplicateEvents        uint64
	StepsStarted           uint64
	StepsCompleted         uint64
	StepsFailed            uint64
	CompensationsStarted   uint64
	CompensationsCompleted uint64
	QuarantinedSagas       uint64
}

// Snapshot 拍摄当前计数器快照。
func (s *ParticipantStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		EventsReceived:         s.eventsReceived.Load(),
		EventsRelevant:         s.eventsRelevant.Load(),
		DuplicateEvents:        s.duplicateEvents.Load(),
		StepsStarted:           s.stepsStarted.Load(),
		StepsCompleted:         s.stepsCompleted.Load(),
		StepsFailed:            s.stepsFailed.Load(),
		CompensationsStarted:   s.compensationsStarted.Load(),
		CompensationsCompleted: s.compensationsCompleted.Load(),
		QuarantinedSagas:       s.quarantinedSagas.Load(),
	}
}
