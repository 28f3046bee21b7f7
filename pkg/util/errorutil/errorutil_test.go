package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToDomainError(t *testing.T) {
	assert.Nil(t, ToDomainError(nil))

	locked := NewLocked("store is migrating", nil)
	got := ToDomainError(fmt.Errorf("outer: %w", locked))
	assert.Equal(t, "LOCKED", got.Code)
	assert.Equal(t, http.StatusLocked, got.HTTPStatus)

	boom := errors.New("boom")
	got = ToDomainError(boom)
	assert.Equal(t, "INTERNAL_ERROR", got.Code)
	assert.ErrorIs(t, got, boom)
}

func TestWrapKeepsCodeAndCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(NewBackendUnavailable("storage backend unavailable"), cause)

	de := ToDomainError(err)
	assert.Equal(t, "BACKEND_UNAVAILABLE", de.Code)
	assert.Equal(t, http.StatusServiceUnavailable, de.HTTPStatus)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "storage backend unavailable: dial tcp: refused", err.Error())

	plain := errors.New("plain")
	assert.Same(t, plain, Wrap(plain, cause))
}
