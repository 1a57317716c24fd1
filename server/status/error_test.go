package status

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromError(t *testing.T) {
	err := Errorf(InvalidInput, "invalid package: %s", "missing manifest")
	e, ok := FromError(err)
	require.True(t, ok)
	assert.Equal(t, InvalidInput, e.Type())
	assert.Equal(t, "invalid package: missing manifest", e.Error())

	// wrapped errors still unwrap to their type
	wrapped := fmt.Errorf("handling request: %w", err)
	e, ok = FromError(wrapped)
	require.True(t, ok)
	assert.Equal(t, InvalidInput, e.Type())

	_, ok = FromError(errors.New("plain"))
	assert.False(t, ok)
}

func TestSigningFailedErrorCarriesNoDetail(t *testing.T) {
	err := NewSigningFailedError()
	assert.Equal(t, "signing failed", err.Error())
}
