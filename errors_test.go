package trajingest

import (
	"fmt"
	"io"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/pkg/errors"
)

func TestBatchErr_Format(t *testing.T) {
	batchErr := NewBatchError(ErrCodeGeneral, "new error")
	assert.Equal(t, "batch err, code:general, message:new error", batchErr.Error())
	assert.Equal(t, nil, batchErr.Cause())
	assert.NotEqual(t, 0, len(batchErr.StackTrace()))

	err := fmt.Errorf("some error raised from db")
	batchErr2 := NewBatchError(ErrCodeCommit, "write batch:%v", 7, err)
	assert.Equal(t, "write batch:7", batchErr2.Message())
	assert.Equal(t, err, batchErr2.Cause())
	assert.T(t, errors.Is(batchErr2, err))
	detail := fmt.Sprintf("%+v", batchErr2)
	assert.T(t, len(detail) > len(batchErr2.Error()))
}

func TestErrorCode(t *testing.T) {
	be := NewBatchError(ErrCodeUnit, "open unit:%v", "a.tbl", io.ErrUnexpectedEOF)
	wrapped := errors.Wrap(be, "lane 3")
	assert.Equal(t, ErrCodeUnit, ErrorCode(wrapped))
	assert.T(t, IsCode(wrapped, ErrCodeUnit))
	assert.T(t, !IsCode(wrapped, ErrCodeCommit))
	assert.T(t, !IsCode(nil, ErrCodeUnit))
	assert.Equal(t, "", ErrorCode(io.EOF))
	assert.T(t, errors.Is(wrapped, io.ErrUnexpectedEOF))
}
