package basic

import (
	"context"
	"database/sql"

	core "github.com/icanact/saga-choreography/storage/database"
	"github.com/icanact/saga-choreography/storage/database/dialect"
)

// Tx 包装 sql.Tx 以实现 core.ITransaction
//
// db 字段保留对外层 *sql.DB 的引用，但没有任何方法读取它（GetDialectName 返回 driver 字段）；
// 所有读写均通过 tx 执行，绝不绕过事务边界。
type Tx struct {
	db     *sql.DB
	tx     *sql.Tx
	driver string
}

func (t *Tx) Query(ctx context.Context, query string, args ...interface{}) (core.IRows, error) {
	dial := dialect.New(t.driver)
	q := dial.Rebind(query)
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...interface{}) core.IRow {
	dial := dialect.New(t.driver)
	q := dial.Rebind(query)
	return &Row{row: t.tx.QueryRowContext(ctx, q, args...)}
}

func (t *Tx) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	dial := dialect.New(t.driver)
	q := dial.Rebind(query)
	return t.tx.ExecContext(ctx, q, args...)
}

// Begin/BeginTx 事务内不支持嵌套开启新事务
func (t *Tx) Begin(ctx context.Context) (core.ITransaction, error) {
	return nil, sql.ErrTxDone
}

func (t *Tx) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	return nil, sql.ErrTxDone
}

func (t *Tx) Ping(ctx context.Context) error { return nil }
func (t *Tx) Close() error                   { return nil }
func (t *Tx) Raw() interface{}               { return t.tx }
func (t *Tx) GetDialectName() string         { return t.driver }

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }
