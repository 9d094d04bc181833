package sderror

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mastercactapus/buildctl/internal/driverapi"
)

func TestMessage_KnownCodes(t *testing.T) {
	assert.NotEmpty(t, Message(driverapi.FailNoCard))
	assert.NotEmpty(t, Message(driverapi.FailLocked))
	assert.NotEmpty(t, Message(driverapi.FailGeneric))
}

func TestMessage_SuccessHasNoMessage(t *testing.T) {
	assert.Empty(t, Message(driverapi.Success))
}
