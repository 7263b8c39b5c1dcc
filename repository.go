package pagebatch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chararch/pagebatch/status"
	"github.com/chararch/pagebatch/util"
)

// DefaultCheckpointTable table of the SQL checkpoint store
const DefaultCheckpointTable = "batch_step_checkpoint"

// SQLCheckpointStore CheckpointStore persisting one row per step id, updated with an optimistic version
type SQLCheckpointStore struct {
	db          *sql.DB
	table       string
	placeholder util.Placeholder
	textType    string
}

// SQLStoreOption option of NewSQLCheckpointStore
type SQLStoreOption func(s *SQLCheckpointStore)

// WithTable table name instead of DefaultCheckpointTable
func WithTable(table string) SQLStoreOption {
	return func(s *SQLCheckpointStore) {
		s.table = table
	}
}

// WithPlaceholder bind parameter style of the driver
func WithPlaceholder(p util.Placeholder) SQLStoreOption {
	return func(s *SQLCheckpointStore) {
		s.placeholder = p
	}
}

// WithDriver placeholder style and checkpoint column type of a database/sql driver name
func WithDriver(driver string) SQLStoreOption {
	return func(s *SQLCheckpointStore) {
		s.placeholder = util.PlaceholderFor(driver)
		s.textType = util.TextType(driver)
	}
}

func NewSQLCheckpointStore(db *sql.DB, opts ...SQLStoreOption) *SQLCheckpointStore {
	if db == nil {
		panic("db must not be nil")
	}
	s := &SQLCheckpointStore{db: db, table: DefaultCheckpointTable, textType: "text"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTable create the checkpoint table if it does not exist. Always-from-zero checkpoints carry every
// delivered key, so the checkpoint column is the driver's largest text type.
func (s *SQLCheckpointStore) CreateTable(ctx context.Context) error {
	ddl := fmt.Sprintf("create table if not exists %s (step_id varchar(255) not null primary key, status varchar(20) not null, checkpoint %s not null, version bigint not null, last_updated bigint not null)", s.table, s.textType)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return NewBatchError(ErrCodeDbFail, "create table %v failed", s.table, err)
	}
	return nil
}

func (s *SQLCheckpointStore) Load(ctx context.Context, stepId string) (*Checkpoint, BatchError) {
	query := util.Rebind(s.placeholder, fmt.Sprintf("select status, checkpoint, version, last_updated from %s where step_id=?", s.table))
	rows, err := s.db.QueryContext(ctx, query, stepId)
	if err != nil {
		return nil, NewBatchError(ErrCodeCheckpoint, "load checkpoint of step:%v failed", stepId, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return nil, NewBatchError(ErrCodeCheckpoint, "load checkpoint of step:%v failed", stepId, err)
		}
		return nil, nil
	}
	var stepStatus, data string
	var version, lastUpdated int64
	if err = rows.Scan(&stepStatus, &data, &version, &lastUpdated); err != nil {
		return nil, NewBatchError(ErrCodeCheckpoint, "scan checkpoint of step:%v failed", stepId, err)
	}
	cp := &Checkpoint{}
	if err = util.ParseJson(data, cp); err != nil {
		return nil, NewBatchError(ErrCodeCheckpoint, "parse checkpoint of step:%v failed", stepId, err)
	}
	cp.StepId = stepId
	cp.Status = status.BatchStatus(stepStatus)
	cp.Version = version
	cp.LastUpdated = time.UnixMilli(lastUpdated)
	return cp, nil
}

func (s *SQLCheckpointStore) Save(ctx context.Context, stepId string, cp *Checkpoint) BatchError {
	return s.save(ctx, s.db, stepId, cp)
}

// SaveTx save with the chunk's *sql.Tx, committed or rolled back together with the chunk
func (s *SQLCheckpointStore) SaveTx(ctx context.Context, tx interface{}, stepId string, cp *Checkpoint) BatchError {
	sqlTx, ok := tx.(*sql.Tx)
	if !ok || sqlTx == nil {
		return s.Save(ctx, stepId, cp)
	}
	return s.save(ctx, sqlTx, stepId, cp)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLCheckpointStore) save(ctx context.Context, db execer, stepId string, cp *Checkpoint) BatchError {
	cp.StepId = stepId
	data, err := util.JsonString(cp)
	if err != nil {
		return NewBatchError(ErrCodeCheckpoint, "serialize checkpoint of step:%v failed", stepId, err)
	}
	now := time.Now()
	if cp.Version == 0 {
		query := util.Rebind(s.placeholder, fmt.Sprintf("insert into %s(step_id, status, checkpoint, version, last_updated) values(?, ?, ?, ?, ?)", s.table))
		if _, err = db.ExecContext(ctx, query, stepId, string(cp.Status), data, 1, now.UnixMilli()); err != nil {
			return NewBatchError(ErrCodeCheckpoint, "insert checkpoint of step:%v failed", stepId, err)
		}
	} else {
		query := util.Rebind(s.placeholder, fmt.Sprintf("update %s set status=?, checkpoint=?, version=?, last_updated=? where step_id=? and version=?", s.table))
		res, err := db.ExecContext(ctx, query, string(cp.Status), data, cp.Version+1, now.UnixMilli(), stepId, cp.Version)
		if err != nil {
			return NewBatchError(ErrCodeCheckpoint, "update checkpoint of step:%v failed", stepId, err)
		}
		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return NewBatchError(ErrCodeCheckpoint, "update checkpoint of step:%v failed", stepId, err)
		}
		if rowsAffected <= 0 {
			return NewBatchError(ErrCodeConcurrency, "checkpoint of step:%v was updated concurrently, version:%v", stepId, cp.Version)
		}
	}
	cp.Version++
	cp.LastUpdated = now
	return nil
}
