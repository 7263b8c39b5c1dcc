package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/chararch/pagebatch"
	"github.com/chararch/pagebatch/status"
)

func newExecution(t *testing.T, params map[string]interface{}) *pagebatch.StepExecution {
	execution, err := pagebatch.NewStepExecution("fileJob", "export", params)
	assert.Equal(t, nil, err)
	return execution
}

func readFile(t *testing.T, name string) string {
	b, err := os.ReadFile(name)
	assert.Equal(t, nil, err)
	return string(b)
}

func TestFilePath_Format(t *testing.T) {
	execution := newExecution(t, map[string]interface{}{"date": "20260102", "seq": 7})
	execution.StepContext.Put("part", "p1")
	execution.JobExecution.JobContext.Put("region", "eu")

	fp := &FilePath{"out/{date,yyyy-MM-dd}/customers_{seq,#4}_{step:part}_{job:region}.txt"}
	name, err := fp.Format(execution)
	assert.Equal(t, nil, err)
	assert.Equal(t, "out/2026-01-02/customers_0007_p1_eu.txt", name)

	name, err = (&FilePath{"{part}-{region}"}).Format(execution)
	assert.Equal(t, nil, err)
	assert.Equal(t, "p1-eu", name)

	for _, pattern := range []string{"{missing}", "{job:part}", "{step:region}", "{other:date}", "{date,xyz}", "{part,#3}"} {
		_, err = (&FilePath{pattern}).Format(execution)
		assert.NotEqual(t, nil, err)
	}
}

type address struct {
	City string `order:"3" header:"CITY" default:"unknown"`
}

type account struct {
	Name    string    `order:"0" header:"NAME"`
	Balance float64   `order:"1" header:"BALANCE" format:"%.2f"`
	Active  bool      `order:"2" header:"ACTIVE" format:"Y"`
	Opened  time.Time `order:"4" format:"20060102"`
	Note    *string   `order:"5" header:"NOTE"`
	Addr    *address
	ignored int
}

func TestTagAggregator(t *testing.T) {
	aggregate, err := TagAggregator(account{}, ",")
	assert.Equal(t, nil, err)

	note := "vip"
	line, err := aggregate(&account{
		Name:    "alice",
		Balance: 12.5,
		Active:  true,
		Opened:  time.Date(2026, 1, 2, 0, 0, 0, 0, time.Local),
		Note:    &note,
		Addr:    &address{City: "Paris"},
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, "alice,12.50,Y,Paris,20260102,vip", line)

	line, err = aggregate(account{Name: "bob"})
	assert.Equal(t, nil, err)
	assert.Equal(t, "bob,0.00,N,unknown,00010101,", line)

	_, err = aggregate(address{})
	assert.NotEqual(t, nil, err)

	header, err := TagHeader(&account{}, "\t")
	assert.Equal(t, nil, err)
	assert.Equal(t, "NAME\tBALANCE\tACTIVE\tCITY\tOpened\tNOTE", header)

	type dup struct {
		A int `order:"1"`
		B int `order:"1"`
	}
	_, err = TagAggregator(dup{}, ",")
	assert.NotEqual(t, nil, err)
	_, err = TagAggregator("not a struct", ",")
	assert.NotEqual(t, nil, err)
}

func TestFlatFileSink_WriteAndTruncateOnOpen(t *testing.T) {
	dir := t.TempDir()
	pattern := filepath.Join(dir, "{date}", "out.txt")
	execution := newExecution(t, map[string]interface{}{"date": "20260102"})
	chunkCtx := &pagebatch.ChunkContext{StepExecution: execution}
	ctx := context.Background()

	sink := NewFlatFileSink(pattern, nil)
	assert.NotEqual(t, nil, sink.WriteBatch(ctx, []interface{}{1}, chunkCtx))
	assert.Equal(t, nil, sink.Open(ctx, execution))
	assert.Equal(t, filepath.Join(dir, "20260102", "out.txt"), sink.FileName())
	assert.Equal(t, nil, sink.WriteRaw(ctx, []byte("ID\n"), chunkCtx))
	assert.Equal(t, nil, sink.WriteBatch(ctx, []interface{}{1, 2}, chunkCtx))
	committed, _ := execution.StepExecutionContext.GetInt64(committedOffsetKey)
	assert.Equal(t, int64(7), committed)
	assert.Equal(t, nil, sink.WriteBatch(ctx, []interface{}{3}, chunkCtx))
	assert.Equal(t, nil, sink.Close(ctx, execution))
	assert.Equal(t, "ID\n1\n2\n3\n", readFile(t, sink.FileName()))

	//a later run resuming from the checkpoint taken after "2" drops "3"
	resumed := newExecution(t, map[string]interface{}{"date": "20260102"})
	resumed.StepExecutionContext.Put(committedOffsetKey, float64(committed))
	sink = NewFlatFileSink(pattern, nil)
	assert.Equal(t, nil, sink.Open(ctx, resumed))
	assert.Equal(t, nil, sink.WriteBatch(ctx, []interface{}{30}, &pagebatch.ChunkContext{StepExecution: resumed}))
	assert.Equal(t, nil, sink.Close(ctx, resumed))
	assert.Equal(t, "ID\n1\n2\n30\n", readFile(t, sink.FileName()))

	//a fresh run starts over
	sink = NewFlatFileSink(pattern, nil)
	fresh := newExecution(t, map[string]interface{}{"date": "20260102"})
	assert.Equal(t, nil, sink.Open(ctx, fresh))
	assert.Equal(t, nil, sink.Close(ctx, fresh))
	assert.Equal(t, "", readFile(t, sink.FileName()))
}

func TestFlatFileSink_AggregatorFailureWritesNothing(t *testing.T) {
	execution := newExecution(t, nil)
	chunkCtx := &pagebatch.ChunkContext{StepExecution: execution}
	ctx := context.Background()
	sink := NewFlatFileSink(filepath.Join(t.TempDir(), "out.txt"), func(item interface{}) (string, error) {
		if item.(int) == 3 {
			return "", errors.New("bad record")
		}
		return fmt.Sprint(item), nil
	})
	assert.Equal(t, nil, sink.Open(ctx, execution))
	defer sink.Close(ctx, execution)
	assert.Equal(t, nil, sink.WriteBatch(ctx, []interface{}{1, 2}, chunkCtx))
	assert.NotEqual(t, nil, sink.WriteBatch(ctx, []interface{}{4, 3}, chunkCtx))
	assert.Equal(t, "1\n2\n", readFile(t, sink.FileName()))
}

//sliceSource serves ints 1..n; the fetch at failOffset fails once
type sliceSource struct {
	n          int
	failOffset int
	failed     bool
}

func (s *sliceSource) Fetch(ctx context.Context, offset, limit int) ([]interface{}, bool, error) {
	if offset == s.failOffset && !s.failed {
		s.failed = true
		return nil, false, errors.New("connection reset")
	}
	var items []interface{}
	for i := offset; i < offset+limit && i < s.n; i++ {
		items = append(items, i+1)
	}
	return items, offset+limit < s.n, nil
}

func TestFlatFileSink_ResumedStepWritesEachRecordOnce(t *testing.T) {
	dir := t.TempDir()
	source := &sliceSource{n: 5, failOffset: 2}
	store := pagebatch.NewMemoryCheckpointStore()
	params := map[string]interface{}{"date": "20260102"}
	var sink *FlatFileSink
	build := func() pagebatch.Step {
		sink = NewFlatFileSink(filepath.Join(dir, "export_{date}.txt"), nil)
		return pagebatch.NewStep("export").
			Pages(pagebatch.NewOffsetPageFetcher(source), 2).
			Sink(sink).
			Header(func(execution *pagebatch.StepExecution) ([]byte, error) {
				return []byte("ID\n"), nil
			}).
			Footer(func(aggregate *pagebatch.Aggregate) ([]byte, error) {
				return []byte("END\n"), nil
			}).
			ChunkSize(2).
			CheckpointStore(store).
			Build()
	}

	first := newExecution(t, params)
	assert.NotEqual(t, nil, build().Exec(context.Background(), first))
	assert.Equal(t, status.FAILED, first.StepStatus)
	name := filepath.Join(dir, "export_20260102.txt")
	assert.Equal(t, "ID\n1\n2\n", readFile(t, name))

	//output of a chunk that never reached its checkpoint
	f, err := os.OpenFile(name, os.O_APPEND|os.O_WRONLY, 0644)
	assert.Equal(t, nil, err)
	f.WriteString("3\n4\n")
	f.Close()

	second := newExecution(t, params)
	assert.Equal(t, nil, build().Exec(context.Background(), second))
	assert.Equal(t, status.COMPLETED, second.StepStatus)
	assert.Equal(t, "ID\n1\n2\n3\n4\n5\nEND\n", readFile(t, name))
}

func TestCopyAndChecksumTasks(t *testing.T) {
	dir := t.TempDir()
	fs := &LocalFileSystem{}
	src := filepath.Join(dir, "in", "data_20260102.txt")
	w, err := fs.Create(src)
	assert.Equal(t, nil, err)
	w.Write([]byte("hello\n"))
	w.Close()

	execution := newExecution(t, map[string]interface{}{"date": "20260102"})
	copyTask := CopyTask(FileMove{
		FromFileName:  filepath.Join(dir, "in", "data_{date}.txt"),
		FromFileStore: fs,
		ToFileName:    filepath.Join(dir, "out", "data_{date}.txt"),
		ToFileStore:   fs,
	})
	assert.Equal(t, nil, copyTask(context.Background(), execution))
	dest := filepath.Join(dir, "out", "data_20260102.txt")
	assert.Equal(t, "hello\n", readFile(t, dest))

	assert.Equal(t, nil, ChecksumTask(fs, filepath.Join(dir, "out", "data_{date}.txt"), "md5")(context.Background(), execution))
	assert.Equal(t, "b1946ac92492d2347c6235b4d2611184", readFile(t, dest+".md5"))
	ok, err := GetChecksumer(MD5).Verify(fs, dest)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, ok)

	assert.Equal(t, nil, GetChecksumer(OKFlag).Checksum(fs, dest))
	ok, _ = GetChecksumer(OKFlag).Verify(fs, dest)
	assert.Equal(t, true, ok)

	os.WriteFile(dest, []byte("tampered\n"), 0644)
	ok, _ = GetChecksumer(MD5).Verify(fs, dest)
	assert.Equal(t, false, ok)

	assert.NotEqual(t, nil, ChecksumTask(fs, dest, "crc32")(context.Background(), execution))
	missing := CopyTask(FileMove{FromFileName: filepath.Join(dir, "nope"), FromFileStore: fs, ToFileName: dest, ToFileStore: fs})
	assert.NotEqual(t, nil, missing(context.Background(), execution))
}
