package trajingest

import (
	"fmt"

	"github.com/pkg/errors"
)

// BatchError is the error type returned by the pipeline; Code() tells the coordinator how to react.
type BatchError interface {
	Code() string
	Message() string
	Error() string
	Cause() error
	StackTrace() errors.StackTrace
}

type batchErr struct {
	code  string
	msg   string
	err   error
	stack errors.StackTrace
}

func (err *batchErr) Code() string {
	return err.code
}

func (err *batchErr) Message() string {
	return err.msg
}

func (err *batchErr) Cause() error {
	return err.err
}

func (err *batchErr) Unwrap() error {
	return err.err
}

func (err *batchErr) StackTrace() errors.StackTrace {
	return err.stack
}

func (err *batchErr) Error() string {
	if err.err != nil {
		return fmt.Sprintf("batch err, code:%v, message:%v, cause:%v", err.code, err.msg, err.err)
	}
	return fmt.Sprintf("batch err, code:%v, message:%v", err.code, err.msg)
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

// NewBatchError creates a BatchError. msg is a format string for args; when the last
// arg is an error it becomes the cause and is not consumed by the format.
func NewBatchError(code string, msg string, args ...interface{}) BatchError {
	var cause error
	if len(args) > 0 {
		if e, ok := args[len(args)-1].(error); ok {
			cause = e
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	be := &batchErr{code: code, msg: msg, err: cause}
	if st, ok := cause.(stackTracer); ok {
		be.stack = st.StackTrace()
	} else {
		be.stack = errors.New(msg).(stackTracer).StackTrace()[1:]
	}
	return be
}

// ErrorCode returns the code of the first BatchError in err's chain, or "" if there is none.
func ErrorCode(err error) string {
	var be BatchError
	if errors.As(err, &be) {
		return be.Code()
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

const (
	// ErrCodeSetup fatal/setup errors abort the run before any lane starts.
	ErrCodeSetup = "setup"
	// ErrCodeRow a single row could not be decoded; never fatal.
	ErrCodeRow = "row"
	// ErrCodeUnit a source unit could not be opened or yielded no usable rows.
	ErrCodeUnit = "unit"
	// ErrCodeCommit the sink rejected a batch or a connection was lost, the batch was rolled back.
	ErrCodeCommit = "commit"
	// ErrCodeLane the lane cannot continue; other lanes may.
	ErrCodeLane = "lane"
	// ErrCodeStop the run was asked to stop.
	ErrCodeStop = "stop"
	// ErrCodeCheckpoint progress could not be persisted; fatal to the run.
	ErrCodeCheckpoint = "checkpoint"
	// ErrCodeGeneral anything else.
	ErrCodeGeneral = "general"
)

var (
	StopError = &batchErr{code: ErrCodeStop, msg: "pipeline stopping"}
)
