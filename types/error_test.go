package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("smtp timeout")
	err := NewNodeExecutionError("send", root).WithWorkflow("wf-1")

	assert.Equal(t, ErrNodeExecution, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Equal(t, "wf-1", err.WorkflowID)
	assert.Contains(t, err.Error(), "node send")
	assert.Contains(t, err.Error(), "smtp timeout")
}

func TestError_Details(t *testing.T) {
	t.Parallel()

	err := NewValidationError("workflow is invalid", "name is required", "no starting node")
	assert.Equal(t, "[VALIDATION_ERROR] workflow is invalid (name is required; no starting node)", err.Error())
	assert.False(t, IsRetryable(err))
}

func TestIsCode_NestedChain(t *testing.T) {
	t.Parallel()

	inner := NewNodeExecutionError("b", errors.New("boom"))
	outer := NewRecoveryExhaustedError("retry", 2, inner)
	wrapped := fmt.Errorf("execute workflow: %w", outer)

	assert.True(t, IsCode(wrapped, ErrRecoveryExhausted))
	assert.True(t, IsCode(wrapped, ErrNodeExecution))
	assert.False(t, IsCode(wrapped, ErrNotFound))
	assert.Equal(t, ErrRecoveryExhausted, GetErrorCode(wrapped))
}

func TestGetErrorCode_PlainError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.False(t, IsCode(nil, ErrNotFound))
	_, ok := AsError(errors.New("plain"))
	assert.False(t, ok)
}
