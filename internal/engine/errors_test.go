package engine

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestConfigurationError_Format(t *testing.T) {
	err := NewConfigurationError(ErrCodeUnrollMismatch, "unroll_k", "block %d, unroll %d", 4, 3)
	assert.Equal(t, "configuration error [E201] unroll_k: block 4, unroll 3", err.Error())

	err = NewConfigurationError(ErrCodeEmptyCatalog, "", "nothing registered")
	assert.Equal(t, "configuration error [E207]: nothing registered", err.Error())
}

func TestCode_SeesThroughWrapping(t *testing.T) {
	cfg := errors.WithMessage(NewConfigurationError(ErrCodeWarmupTooLong, "w", "x"), "strategy \"s\"")
	assert.True(t, IsConfigurationError(cfg))
	assert.Equal(t, ErrCodeWarmupTooLong, Code(cfg))

	unsup := errors.Wrap(NewUnsupportedError("slm", "repacking through SLM"), "generate")
	assert.True(t, IsUnsupportedError(unsup))
	assert.False(t, IsConfigurationError(unsup))
	assert.Equal(t, ErrCodeUnsupported, Code(unsup))
	assert.Equal(t, ErrorCode(""), ConfigurationErrorCode(unsup))

	assert.Equal(t, ErrorCode(""), Code(errors.New("plain")))
}
