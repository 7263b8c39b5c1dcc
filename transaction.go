package pagebatch

import (
	"context"
	"database/sql"
)

// TransactionManager opens one transaction per chunk. Sinks and TxStores receive it as ChunkContext.Tx.
type TransactionManager interface {
	BeginTx(ctx context.Context) (tx interface{}, err BatchError)
	Commit(tx interface{}) BatchError
	Rollback(tx interface{}) BatchError
}

// DefaultTxManager TransactionManager over a *sql.DB
type DefaultTxManager struct {
	db *sql.DB
}

// NewTransactionManager create a TransactionManager instance
func NewTransactionManager(db *sql.DB) TransactionManager {
	return &DefaultTxManager{
		db: db,
	}
}

// BeginTx begin a transaction
func (tm *DefaultTxManager) BeginTx(ctx context.Context) (interface{}, BatchError) {
	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, NewBatchError(ErrCodeDbFail, "start transaction failed", err)
	}
	return tx, nil
}

// Commit commit a transaction
func (tm *DefaultTxManager) Commit(tx interface{}) BatchError {
	if err := tx.(*sql.Tx).Commit(); err != nil {
		return NewBatchError(ErrCodeDbFail, "transaction commit failed", err)
	}
	return nil
}

// Rollback rollback a transaction
func (tm *DefaultTxManager) Rollback(tx interface{}) BatchError {
	if err := tx.(*sql.Tx).Rollback(); err != nil && err != sql.ErrTxDone {
		return NewBatchError(ErrCodeDbFail, "transaction rollback failed", err)
	}
	return nil
}

// noopTxManager used when no transactional resource is configured; chunks commit once the sink returns
type noopTxManager struct{}

func (noopTxManager) BeginTx(ctx context.Context) (interface{}, BatchError) {
	return nil, nil
}

func (noopTxManager) Commit(tx interface{}) BatchError {
	return nil
}

func (noopTxManager) Rollback(tx interface{}) BatchError {
	return nil
}
