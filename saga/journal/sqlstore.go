package journal

import (
	"context"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"github.com/icanact/saga-choreography/errors"
	"github.com/icanact/saga-choreography/logging"
	"github.com/icanact/saga-choreography/patterns/retry"
	"github.com/icanact/saga-choreography/saga"
	core "github.com/icanact/saga-choreography/storage/database"
	"github.com/icanact/saga-choreography/storage/database/basic"
	qb "github.com/icanact/saga-choreography/storage/database/sql"
)

// SQLStore 是一个基于 database/sql + modernc.org/sqlite（纯 Go，无 cgo）的持久化
// Store 实现，用于需要在进程重启后恢复 saga 的部署。
type SQLStore struct {
	db       core.IDatabase
	qb       qb.ISql
	retryCfg retry.Config
	logger   logging.ILogger
}

const createTableDDL = `
CREATE TABLE IF NOT EXISTS saga_journal (
	saga_id INTEGER NOT NULL,
	sequence INTEGER NOT NULL,
	recorded_at_millis INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (saga_id, sequence)
)`

// OpenSQLStore 打开（或创建）一个 sqlite 文件作为持久化日志存储。
// dsn 示例："file:saga_journal.db?_pragma=journal_mode(WAL)"。
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := basic.New(core.DBConfig{Driver: "sqlite", Database: dsn})
	if err != nil {
		return nil, errors.WrapDatabaseError("failed to open saga journal database", err)
	}

	s := &SQLStore{
		db:       db,
		qb:       qb.New(db),
		retryCfg: retry.DefaultConfig(),
		logger:   logging.GetLogger().WithField("component", "saga.journal.sql"),
	}

	ctx := context.Background()
	if err := retry.Do(ctx, func(ctx context.Context) error {
		_, err := db.Exec(ctx, createTableDDL)
		return err
	}, s.retryCfg); err != nil {
		return nil, errors.WrapDatabaseError("failed to create saga_journal table", err)
	}

	return s, nil
}

// storedEvent is the JSON envelope persisted in the payload column.
type storedEvent struct {
	Type                 saga.JournalEventType `json:"type"`
	TriggeringEvent      string                `json:"triggering_event,omitempty"`
	Input                []byte                `json:"input,omitempty"`
	Attempt              int                   `json:"attempt,omitempty"`
	Output               []byte                `json:"output,omitempty"`
	CompensationData     []byte                `json:"compensation_data,omitempty"`
	Error                string                `json:"error,omitempty"`
	RequiresCompensation bool                  `json:"requires_compensation,omitempty"`
	IsAmbiguous          bool                  `json:"is_ambiguous,omitempty"`
	Reason               string                `json:"reason,omitempty"`
}

func toStored(e saga.JournalEvent) storedEvent {
	return storedEvent{
		Type:                 e.Type,
		TriggeringEvent:      e.TriggeringEvent,
		Input:                e.Input,
		Attempt:              e.Attempt,
		Output:               e.Output,
		CompensationData:     e.CompensationData,
		Error:                e.Error,
		RequiresCompensation: e.RequiresCompensation,
		IsAmbiguous:          e.IsAmbiguous,
		Reason:               e.Reason,
	}
}

func fromStored(s storedEvent) saga.JournalEvent {
	return saga.JournalEvent{
		Type:                 s.Type,
		TriggeringEvent:      s.TriggeringEvent,
		Input:                s.Input,
		Attempt:              s.Attempt,
		Output:               s.Output,
		CompensationData:     s.CompensationData,
		Error:                s.Error,
		RequiresCompensation: s.RequiresCompensation,
		IsAmbiguous:          s.IsAmbiguous,
		Reason:               s.Reason,
	}
}

func (s *SQLStore) Append(ctx context.Context, sagaID saga.SagaID, event saga.JournalEvent) (uint64, error) {
	payload, err := json.Marshal(toStored(event))
	if err != nil {
		return 0, errors.WrapError(err, errors.ErrCodeInternal, "failed to marshal journal event")
	}

	var sequence uint64
	err = retry.Do(ctx, func(ctx context.Context) error {
		row := s.qb.Select("COALESCE(MAX(sequence), 0) + 1").From("saga_journal").Where("saga_id = ?", int64(sagaID)).QueryRow(ctx)
		var next int64
		if err := row.Scan(&next); err != nil {
			return err
		}
		sequence = uint64(next)

		_, err := s.qb.InsertInto("saga_journal").
			Columns("saga_id", "sequence", "recorded_at_millis", "event_type", "payload").
			Values(int64(sagaID), int64(sequence), time.Now().UnixMilli(), string(event.Type), payload).
			Exec(ctx)
		return err
	}, s.retryCfg)
	if err != nil {
		s.logger.Error(ctx, "journal append failed", logging.Int64("saga_id", int64(sagaID)), logging.Error(err))
		return 0, errors.WrapDatabaseError("failed to append journal entry", err)
	}
	return sequence, nil
}

func (s *SQLStore) Read(ctx context.Context, sagaID saga.SagaID) ([]Entry, error) {
	rows, err := s.qb.Select("sequence", "recorded_at_millis", "payload").
		From("saga_journal").
		Where("saga_id = ?", int64(sagaID)).
		OrderBy("sequence ASC").
		Query(ctx)
	if err != nil {
		return nil, errors.WrapDatabaseError("failed to read journal", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var seq int64
		var recordedAt int64
		var payload []byte
		if err := rows.Scan(&seq, &recordedAt, &payload); err != nil {
			return nil, errors.WrapDatabaseError("failed to scan journal row", err)
		}
		var stored storedEvent
		if err := json.Unmarshal(payload, &stored); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInternal, "failed to unmarshal journal payload")
		}
		out = append(out, Entry{
			Sequence:         uint64(seq),
			RecordedAtMillis: recordedAt,
			Event:            fromStored(stored),
		})
	}
	return out, rows.Err()
}

func (s *SQLStore) ListSagas(ctx context.Context) ([]saga.SagaID, error) {
	// GroupBy(saga_id) with no aggregate column is the builder's way to express
	// SELECT DISTINCT saga_id, since ISelectBuilder has no Distinct() method.
	rows, err := s.qb.Select("saga_id").From("saga_journal").GroupBy("saga_id").Query(ctx)
	if err != nil {
		return nil, errors.WrapDatabaseError("failed to list sagas", err)
	}
	defer rows.Close()

	var ids []saga.SagaID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.WrapDatabaseError("failed to scan saga id", err)
		}
		ids = append(ids, saga.SagaID(id))
	}
	return ids, rows.Err()
}

func (s *SQLStore) Prune(ctx context.Context, sagaID saga.SagaID) error {
	_, err := s.qb.DeleteFrom("saga_journal").Where("saga_id = ?", int64(sagaID)).Exec(ctx)
	if err != nil {
		return errors.WrapDatabaseError("failed to prune journal", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
