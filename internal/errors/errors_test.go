// internal/errors/errors_test.go
package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapErrorKeepsType(t *testing.T) {
	base := NewConfigurationError("unsupported vendor", nil)
	wrapped := WrapError(base, "generate grid", ErrorTypeError)

	assert.True(t, IsConfigurationError(wrapped))
	assert.Equal(t, "CONFIGURATION_ERROR", CodeOf(wrapped))
	assert.Contains(t, wrapped.Error(), "generate grid")
}

func TestWrapErrorPlain(t *testing.T) {
	wrapped := WrapError(stderrors.New("eof"), "read body", ErrorTypeUpstream)
	assert.True(t, IsUpstreamError(wrapped))
	assert.Nil(t, WrapError(nil, "x", ErrorTypeError))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		NewValidationError("bad", nil):     http.StatusBadRequest,
		NewNotFoundError("missing", nil):   http.StatusNotFound,
		NewResourceError("no refs", nil):   http.StatusUnprocessableEntity,
		NewUpstreamError("vendor", nil):    http.StatusBadGateway,
		NewConfigurationError("cfg", nil):  http.StatusPreconditionFailed,
		stderrors.New("plain"):             http.StatusInternalServerError,
	}
	for err, status := range cases {
		assert.Equal(t, status, HTTPStatus(err), err.Error())
	}
}

func TestWrapAndCause(t *testing.T) {
	root := stderrors.New("disk full")
	err := Wrapf(Wrap(root, "write blob"), "shot %d", 3)
	assert.Equal(t, root, Cause(err))
	assert.Equal(t, "shot 3: write blob: disk full", err.Error())
}
