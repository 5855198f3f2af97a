package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigError(t *testing.T) {
	err := Config("window-overlap", "must be smaller than window size (%d >= %d)", 250, 250)

	assert.True(t, IsConfiguration(err))
	assert.Equal(t, "configuration error: window-overlap: must be smaller than window size (250 >= 250)", err.Error())

	// ラップされても判定できる
	wrapped := fmt.Errorf("embed: %w", err)
	assert.True(t, IsConfiguration(wrapped))

	var cfgErr *ConfigError
	assert.True(t, errors.As(wrapped, &cfgErr))
	assert.Equal(t, "window-overlap", cfgErr.Param)
}

func TestConfigError_NoParam(t *testing.T) {
	err := &ConfigError{Reason: "sample overflow"}
	assert.Equal(t, "configuration error: sample overflow", err.Error())
	assert.False(t, IsConfiguration(errors.New("other")))
}
