package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	cause := errors.New("401 unauthorized")
	err := fmt.Errorf("build index: %w", Wrap(cause, CodeRemoteAuth, "list events"))

	assert.True(t, errors.Is(err, ErrRemoteAuth))
	assert.False(t, errors.Is(err, ErrPaginationIncomplete))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, CodeRemoteAuth, CodeOf(err))
	assert.Equal(t, "build index: list events: 401 unauthorized", err.Error())
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, "", CodeOf(errors.New("boom")))
	assert.Equal(t, "", CodeOf(nil))
}
