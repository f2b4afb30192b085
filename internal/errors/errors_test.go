package errors

import (
	"bytes"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/TAIGA/internal/logging"
)

func TestErrorFormatting(t *testing.T) {
	err := New("factorization failed").
		WithOperation("cholesky").
		WithComponent("gp")

	msg := err.Error()
	assert.Contains(t, msg, "factorization failed")
	assert.Contains(t, msg, "operation=cholesky")
	assert.Contains(t, msg, "component=gp")
	assert.NotEmpty(t, err.StackTrace())
}

func TestErrorfFormatsMessage(t *testing.T) {
	err := Errorf("attempt %d of %d failed", 3, 10)
	assert.Equal(t, "attempt 3 of 10 failed", err.Message)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("matrix not positive definite")
	err := Wrap(cause, "loss evaluation failed")

	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "loss evaluation failed")
	assert.Contains(t, err.Error(), "matrix not positive definite")
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, cause, err.Unwrap())
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))
	assert.Nil(t, Wrapf(nil, "ignored %d", 1))
}

func TestWrapReusesExistingError(t *testing.T) {
	inner := New("seed").WithComponent("fit")
	outer := Wrap(inner, "outer message")

	assert.Same(t, inner, outer)
	assert.Equal(t, "outer message", outer.Message)
	assert.Equal(t, "fit", outer.Component)
}

func TestErrorHandlerLogsErrorResponses(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.DebugLevel, &buf)

	handler := ErrorHandler(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad input", http.StatusBadRequest)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/fit", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, buf.String(), "Request error")
	assert.Contains(t, buf.String(), "/api/v1/fit")
}

func TestErrorHandlerIgnoresSuccessResponses(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.DebugLevel, &buf)

	handler := ErrorHandler(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, buf.Len())
}

func TestRecoveryMiddlewareAnswersWith500(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.DebugLevel, &buf)

	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("unexpected state")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/fit", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "Recovered from panic")
}
