package pagebatch

import (
	"fmt"

	"github.com/pkg/errors"
)

// BatchError error returned by every component of a step
type BatchError interface {
	Code() string
	Message() string
	Error() string
	Unwrap() error
	StackTrace() errors.StackTrace
}

type batchErr struct {
	code  string
	msg   string
	cause error
	stack errors.StackTrace
}

func (err *batchErr) Code() string {
	return err.code
}

func (err *batchErr) Message() string {
	return err.msg
}

func (err *batchErr) Error() string {
	if err.cause != nil {
		return fmt.Sprintf("batch err, code:%v, message:%v, cause:%v", err.code, err.msg, err.cause)
	}
	return fmt.Sprintf("batch err, code:%v, message:%v", err.code, err.msg)
}

func (err *batchErr) Unwrap() error {
	return err.cause
}

func (err *batchErr) Cause() error {
	return err.cause
}

func (err *batchErr) StackTrace() errors.StackTrace {
	return err.stack
}

func (err *batchErr) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprint(s, err.Error())
			err.stack.Format(s, verb)
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, err.Error())
	case 'q':
		fmt.Fprintf(s, "%q", err.Error())
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// NewBatchError create a BatchError. msg is a format string for args; if the last arg is an error it becomes the cause.
func NewBatchError(code string, msg string, args ...interface{}) BatchError {
	var cause error
	if len(args) > 0 {
		if e, ok := args[len(args)-1].(error); ok {
			cause = e
			if countVerbs(msg) < len(args) {
				args = args[:len(args)-1]
			}
		}
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	// skip NewBatchError itself
	st := errors.New("").(stackTracer).StackTrace()
	if len(st) > 1 {
		st = st[1:]
	}
	return &batchErr{code: code, msg: msg, cause: cause, stack: st}
}

// WrapError convert err to a BatchError with code unless it already is one
func WrapError(code string, err error, msg string, args ...interface{}) BatchError {
	if err == nil {
		return nil
	}
	if be, ok := err.(BatchError); ok {
		return be
	}
	return NewBatchError(code, msg, append(args, err)...)
}

// IsCode report whether err or any of its causes is a BatchError with the code
func IsCode(err error, code string) bool {
	for err != nil {
		if be, ok := err.(BatchError); ok && be.Code() == code {
			return true
		}
		next := errors.Unwrap(err)
		if next == nil {
			if c, ok := err.(interface{ Cause() error }); ok {
				next = c.Cause()
			}
		}
		if next == err {
			return false
		}
		err = next
	}
	return false
}

func countVerbs(format string) int {
	n := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		if i+1 < len(format) && format[i+1] == '%' {
			i++
			continue
		}
		n++
	}
	return n
}

const (
	ErrCodeFetch       = "fetch"
	ErrCodeProcess     = "process"
	ErrCodeWrite       = "write"
	ErrCodeCheckpoint  = "checkpoint"
	ErrCodeTimeout     = "timeout"
	ErrCodeStop        = "stop"
	ErrCodeEndOfData   = "end_of_data"
	ErrCodeConcurrency = "concurrency"
	ErrCodeDbFail      = "db_fail"
	ErrCodeGeneral     = "general"
)

var (
	// EndOfData returned by a Reader once its data is exhausted, and on every later call
	EndOfData       BatchError = &batchErr{code: ErrCodeEndOfData, msg: "end of data"}
	StopError       BatchError = &batchErr{code: ErrCodeStop, msg: "step stopping"}
	ConcurrentError BatchError = &batchErr{code: ErrCodeConcurrency, msg: "concurrency error"}
)
