package orm

import (
	"context"
	"database/sql"

	"github.com/chararch/pagebatch"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

//GormSource a pagebatch.DataSource over the entities of T, ordered by order, which must be a unique key
type GormSource[T any] struct {
	db    *gorm.DB
	table string
	order string
	query interface{}
	args  []interface{}
}

func NewGormSource[T any](db *gorm.DB, order string) *GormSource[T] {
	if db == nil {
		panic("db must not be nil")
	}
	if order == "" {
		panic("order must not be empty")
	}
	return &GormSource[T]{db: db, order: order}
}

//Where restrict the entities read, same arguments as gorm's Where
func (s *GormSource[T]) Where(query interface{}, args ...interface{}) *GormSource[T] {
	s.query = query
	s.args = args
	return s
}

//Table read from table instead of the table gorm names after T
func (s *GormSource[T]) Table(table string) *GormSource[T] {
	s.table = table
	return s
}

func (s *GormSource[T]) Fetch(ctx context.Context, offset, limit int) ([]interface{}, bool, error) {
	var entities []T
	tx := s.db.WithContext(ctx).Model(new(T))
	if s.table != "" {
		tx = tx.Table(s.table)
	}
	if s.query != nil {
		tx = tx.Where(s.query, s.args...)
	}
	if err := tx.Order(s.order).Offset(offset).Limit(limit).Find(&entities).Error; err != nil {
		return nil, false, errors.Wrapf(err, "find %T offset:%v limit:%v", *new(T), offset, limit)
	}
	items := make([]interface{}, len(entities))
	for i := range entities {
		items[i] = entities[i]
	}
	return items, len(entities) == limit, nil
}

//GormSink inserts each batch of T with one CreateInBatches call, inside the chunk's *sql.Tx when the step has a
//transaction manager over the same database, in its own transaction otherwise
type GormSink[T any] struct {
	db    *gorm.DB
	table string
}

func NewGormSink[T any](db *gorm.DB) *GormSink[T] {
	if db == nil {
		panic("db must not be nil")
	}
	return &GormSink[T]{db: db}
}

//Table write to table instead of the table gorm names after T
func (s *GormSink[T]) Table(table string) *GormSink[T] {
	s.table = table
	return s
}

func (s *GormSink[T]) WriteBatch(ctx context.Context, items []interface{}, chunkCtx *pagebatch.ChunkContext) error {
	entities := make([]T, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case T:
			entities = append(entities, v)
		case *T:
			entities = append(entities, *v)
		default:
			return errors.Errorf("unexpected record type:%T, expect:%T", item, *new(T))
		}
	}
	if len(entities) == 0 {
		return nil
	}
	if chunkCtx != nil {
		if sqlTx, ok := chunkCtx.Tx.(*sql.Tx); ok && sqlTx != nil {
			tx := s.db.Session(&gorm.Session{Context: ctx, NewDB: true, SkipDefaultTransaction: true})
			tx.Statement.ConnPool = sqlTx
			return s.into(tx).CreateInBatches(entities, len(entities)).Error
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.into(tx).CreateInBatches(entities, len(entities)).Error
	})
}

func (s *GormSink[T]) into(tx *gorm.DB) *gorm.DB {
	if s.table != "" {
		return tx.Table(s.table)
	}
	return tx
}
