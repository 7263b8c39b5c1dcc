package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/chararch/pagebatch"
	"github.com/chararch/pagebatch/status"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Customer struct {
	ID     int64 `gorm:"primaryKey"`
	Name   string
	Age    int
	Gender string
}

type CustomerCopy struct {
	ID     int64 `gorm:"primaryKey"`
	Name   string
	Age    int
	Gender string
}

func openDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "orm.db")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	assert.Equal(t, nil, err)
	seed(t, db)
	return db
}

func seed(t *testing.T, db *gorm.DB) {
	assert.Equal(t, nil, db.AutoMigrate(&Customer{}, &CustomerCopy{}))
	for i := 1; i <= 7; i++ {
		gender := "M"
		if i%2 == 0 {
			gender = "F"
		}
		assert.Equal(t, nil, db.Create(&Customer{ID: int64(i), Name: fmt.Sprintf("C%d", i), Age: 10 + i*5, Gender: gender}).Error)
	}
}

func TestGormSource_Fetch(t *testing.T) {
	db := openDB(t)
	source := NewGormSource[Customer](db, "id").Where("age > ?", 20)

	items, more, err := source.Fetch(context.Background(), 0, 3)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, more)
	assert.Equal(t, 3, len(items))
	assert.Equal(t, int64(3), items[0].(Customer).ID)

	items, more, err = source.Fetch(context.Background(), 3, 3)
	assert.Equal(t, nil, err)
	assert.Equal(t, false, more)
	assert.Equal(t, 2, len(items))
	assert.Equal(t, int64(7), items[1].(Customer).ID)
}

func TestGormSink_CopiesTable(t *testing.T) {
	db := openDB(t)
	step := pagebatch.NewStep("copy").
		Pages(pagebatch.NewOffsetPageFetcher(NewGormSource[Customer](db, "id")), 3).
		Stages(pagebatch.Transform(func(item interface{}) (interface{}, error) {
			c := item.(Customer)
			return &CustomerCopy{ID: c.ID, Name: c.Name, Age: c.Age + 20, Gender: c.Gender}, nil
		})).
		Sink(NewGormSink[CustomerCopy](db)).
		ChunkSize(2).
		Build()
	execution, err := pagebatch.NewStepExecution("ormJob", "copy", nil)
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, step.Exec(context.Background(), execution))
	assert.Equal(t, status.COMPLETED, execution.StepStatus)
	assert.Equal(t, int64(4), execution.CommitCount)

	var copies []CustomerCopy
	assert.Equal(t, nil, db.Order("id").Find(&copies).Error)
	assert.Equal(t, 7, len(copies))
	assert.Equal(t, 35, copies[0].Age)

	err = NewGormSink[CustomerCopy](db).WriteBatch(context.Background(), []interface{}{"bad"}, nil)
	assert.NotEqual(t, nil, err)
}

type secondChunkFails struct {
	inner pagebatch.Sink
	calls int
}

func (s *secondChunkFails) WriteBatch(ctx context.Context, items []interface{}, chunkCtx *pagebatch.ChunkContext) error {
	if err := s.inner.WriteBatch(ctx, items, chunkCtx); err != nil {
		return err
	}
	s.calls++
	if s.calls == 2 {
		return errors.New("archive quota exceeded")
	}
	return nil
}

func TestGormSink_JoinsChunkTransaction(t *testing.T) {
	sqlDB, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", filepath.Join(t.TempDir(), "orm.db")))
	assert.Equal(t, nil, err)
	defer sqlDB.Close()
	db, err := Open("sqlite3", sqlDB)
	assert.Equal(t, nil, err)
	seed(t, db)
	assert.Equal(t, nil, db.Exec("create table customer_archive (id integer primary key, name text, age integer, gender text)").Error)

	step := pagebatch.NewStep("archive").
		Pages(pagebatch.NewOffsetPageFetcher(NewGormSource[Customer](db, "id")), 2).
		Sink(&secondChunkFails{inner: NewGormSink[Customer](db).Table("customer_archive")}).
		ChunkSize(2).
		TransactionManager(pagebatch.NewTransactionManager(sqlDB)).
		Build()
	execution, _ := pagebatch.NewStepExecution("ormJob", "archive", nil)
	e := step.Exec(context.Background(), execution)
	assert.Equal(t, pagebatch.ErrCodeWrite, e.Code())
	assert.Equal(t, int64(1), execution.CommitCount)

	// the second chunk was rolled back with the chunk transaction
	items, more, err := NewGormSource[Customer](db, "id").Table("customer_archive").Fetch(context.Background(), 0, 10)
	assert.Equal(t, nil, err)
	assert.Equal(t, false, more)
	assert.Equal(t, 2, len(items))
	assert.Equal(t, int64(2), items[1].(Customer).ID)

	_, err = Open("oracle", sqlDB)
	assert.NotEqual(t, nil, err)
}
