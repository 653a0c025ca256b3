package luerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "prereq", KindPrereq.String())
	assert.Equal(t, "retry_required", KindRetryRequired.String())
}

func TestPrereqfIsKindPrereq(t *testing.T) {
	err := Prereqf("OP_CREATE_INSTANCE", "instance %s already exists", "i1")
	assert.True(t, Is(err, KindPrereq))
	assert.False(t, Is(err, KindExec))
	assert.Contains(t, err.Error(), "OP_CREATE_INSTANCE")
}

func TestIsUnwrapsWrappedError(t *testing.T) {
	base := RPCf("blockdev_create", "node offline")
	wrapped := fmt.Errorf("allocate storage: %w", base)
	assert.True(t, Is(wrapped, KindRPC))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindExec))
}
