package file

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chararch/pagebatch"
	"github.com/pkg/errors"
)

//DefaultDelimiter field separator of flat files
const DefaultDelimiter = "\t"

const committedOffsetKey = "pagebatch.FlatFileSink.offset"

//LineAggregator renders one record as one line, without the line terminator
type LineAggregator func(item interface{}) (string, error)

//FlatFileSink writes records as lines of a local UTF-8 text file.
//
//The byte offset after the last successful write is kept in the step execution context and saved with
//every checkpoint. Open truncates the file to that offset, so a resumed step drops output of the chunk
//that never got its checkpoint and writes it again exactly once.
type FlatFileSink struct {
	path       FilePath
	aggregator LineAggregator
	fileName   string
	f          *os.File
	offset     int64
}

//NewFlatFileSink sink writing to the file named by pattern; a nil aggregator prints records with %v
func NewFlatFileSink(pattern string, aggregator LineAggregator) *FlatFileSink {
	if aggregator == nil {
		aggregator = func(item interface{}) (string, error) {
			return fmt.Sprintf("%v", item), nil
		}
	}
	return &FlatFileSink{path: FilePath{NamePattern: pattern}, aggregator: aggregator}
}

//FileName the resolved file name, known after Open
func (s *FlatFileSink) FileName() string {
	return s.fileName
}

func (s *FlatFileSink) Open(ctx context.Context, execution *pagebatch.StepExecution) pagebatch.BatchError {
	fileName, err := s.path.Format(execution)
	if err != nil {
		return pagebatch.WrapError(pagebatch.ErrCodeWrite, err, "resolve output file name")
	}
	if err = os.MkdirAll(filepath.Dir(fileName), 0755); err != nil {
		return pagebatch.WrapError(pagebatch.ErrCodeWrite, err, "create directory of:%v", fileName)
	}
	offset, err := execution.StepExecutionContext.GetInt64(committedOffsetKey, 0)
	if err != nil {
		return pagebatch.WrapError(pagebatch.ErrCodeWrite, err, "read committed offset of:%v", fileName)
	}
	f, err := os.OpenFile(fileName, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return pagebatch.WrapError(pagebatch.ErrCodeWrite, err, "open file:%v", fileName)
	}
	if err = resetTo(f, offset); err != nil {
		f.Close()
		return pagebatch.WrapError(pagebatch.ErrCodeWrite, err, "truncate file:%v to offset:%v", fileName, offset)
	}
	if offset > 0 {
		pagebatch.GetLogger().Info(ctx, "resume writing file:%v at offset:%v", fileName, offset)
	}
	s.fileName, s.f, s.offset = fileName, f, offset
	return nil
}

func (s *FlatFileSink) WriteBatch(ctx context.Context, items []interface{}, chunkCtx *pagebatch.ChunkContext) error {
	buf := &bytes.Buffer{}
	for _, item := range items {
		line, err := s.aggregator(item)
		if err != nil {
			return errors.WithMessagef(err, "aggregate record:%v", item)
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return s.write(buf.Bytes(), chunkCtx)
}

func (s *FlatFileSink) WriteRaw(ctx context.Context, data []byte, chunkCtx *pagebatch.ChunkContext) error {
	return s.write(data, chunkCtx)
}

func (s *FlatFileSink) write(data []byte, chunkCtx *pagebatch.ChunkContext) error {
	if s.f == nil {
		return errors.New("flat file sink is not open")
	}
	n, err := s.f.Write(data)
	if err == nil {
		err = s.f.Sync()
	}
	if err != nil {
		if er := resetTo(s.f, s.offset); er != nil {
			return errors.Wrapf(err, "write file:%v failed and truncating back to offset:%v failed too: %v", s.fileName, s.offset, er)
		}
		return errors.Wrapf(err, "write file:%v", s.fileName)
	}
	s.offset += int64(n)
	chunkCtx.StepExecution.StepExecutionContext.Put(committedOffsetKey, s.offset)
	return nil
}

func (s *FlatFileSink) Close(ctx context.Context, execution *pagebatch.StepExecution) pagebatch.BatchError {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	if err != nil {
		return pagebatch.WrapError(pagebatch.ErrCodeWrite, err, "close file:%v", s.fileName)
	}
	return nil
}

func resetTo(f *os.File, offset int64) error {
	if err := f.Truncate(offset); err != nil {
		return err
	}
	_, err := f.Seek(offset, io.SeekStart)
	return err
}
