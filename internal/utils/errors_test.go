package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMessage(t *testing.T) {
	cause := errors.New("boom")

	assert.Equal(t, "Op.X: failed: boom", E(CodeInternal, "Op.X", "failed", cause).Error())
	assert.Equal(t, "Op.X: failed", E(CodeInternal, "Op.X", "failed", nil).Error())
	assert.Equal(t, "failed", E(CodeInternal, "", "failed", nil).Error())
	assert.Equal(t, "Op.X: boom", E(CodeInternal, "Op.X", "", cause).Error())
	assert.Equal(t, "failed: boom", E(CodeInternal, "", "failed", cause).Error())
	assert.Equal(t, "error", E(CodeInternal, "Op.X", "", nil).Error())
	assert.ErrorIs(t, E(CodeInternal, "Op.X", "failed", cause), cause)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeInvalidArgument: http.StatusBadRequest,
		CodeUnauthorized:    http.StatusUnauthorized,
		CodeForbidden:       http.StatusForbidden,
		CodeNotFound:        http.StatusNotFound,
		CodeConflict:        http.StatusConflict,
		CodePrecondition:    http.StatusConflict,
		CodeUnprocessable:   http.StatusUnprocessableEntity,
		CodeUnavailable:     http.StatusServiceUnavailable,
		CodeTimeout:         http.StatusGatewayTimeout,
		CodeInternal:        http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(E(code, "op", "msg", nil)), code)
	}

	assert.Equal(t, http.StatusNotFound, HTTPStatus(fmt.Errorf("wrap: %w", ErrNotFound)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(E(Code("UNKNOWN"), "op", "msg", nil)))
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", E(CodeNotFound, "op", "missing", nil))
	assert.True(t, IsCode(wrapped, CodeNotFound))
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("x")))
}
