package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/chararch/pagebatch"
	"github.com/chararch/pagebatch/util"
	"github.com/pkg/errors"
)

//ArgsMapper column values of a record, in the order of the sink's columns
type ArgsMapper func(item interface{}) ([]interface{}, error)

//SQLSink writes each batch with one multi-row INSERT. It joins the chunk transaction when the step runs with
//a pagebatch.DefaultTxManager, so rows and checkpoint commit together; otherwise it commits its own transaction.
type SQLSink struct {
	db          *sql.DB
	table       string
	columns     []string
	placeholder util.Placeholder
	mapper      ArgsMapper
}

func NewSQLSink(db *sql.DB, table string, columns []string, mapper ArgsMapper, placeholder util.Placeholder) *SQLSink {
	if db == nil {
		panic("db must not be nil")
	}
	return &SQLSink{db: db, table: table, columns: columns, placeholder: placeholder, mapper: mapper}
}

func (s *SQLSink) statement(rows int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(s.columns)), ", ") + ")"
	values := make([]string, rows)
	for i := range values {
		values[i] = row
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table, strings.Join(s.columns, ", "), strings.Join(values, ", "))
	return util.Rebind(s.placeholder, query)
}

func (s *SQLSink) WriteBatch(ctx context.Context, items []interface{}, chunkCtx *pagebatch.ChunkContext) error {
	if len(items) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(items)*len(s.columns))
	for _, item := range items {
		values, err := s.mapper(item)
		if err != nil {
			return errors.WithMessagef(err, "map record:%v", item)
		}
		if len(values) != len(s.columns) {
			return errors.Errorf("record:%v has %v values for %v columns", item, len(values), len(s.columns))
		}
		args = append(args, values...)
	}
	query := s.statement(len(items))
	if tx, ok := chunkCtx.Tx.(*sql.Tx); ok && tx != nil {
		_, err := tx.ExecContext(ctx, query, args...)
		return errors.Wrapf(err, "insert %v rows into %v", len(items), s.table)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		if er := tx.Rollback(); er != nil {
			pagebatch.GetLogger().Error(ctx, "rollback insert into %v failed, err:%v", s.table, er)
		}
		return errors.Wrapf(err, "insert %v rows into %v", len(items), s.table)
	}
	return errors.Wrapf(tx.Commit(), "commit insert into %v", s.table)
}
