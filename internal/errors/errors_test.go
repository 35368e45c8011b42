package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/equilibria/internal/logging"
)

type kindedError struct{ kind Kind }

func (e kindedError) Error() string { return "kinded" }
func (e kindedError) Kind() Kind    { return e.kind }

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "message only",
			err:  &Error{Kind: KindInvalidArgument, Message: "bad length"},
			want: "bad length",
		},
		{
			name: "component and operation",
			err:  New(KindNotFound, "missing").WithComponent("concentration").WithOperation("Solver.Compute"),
			want: "concentration: Solver.Compute: missing",
		},
		{
			name: "wrapped",
			err:  Wrap(fmt.Errorf("boom"), "solve failed"),
			want: "solve failed: boom",
		},
		{
			name: "kind only",
			err:  &Error{Kind: KindConvergence},
			want: "convergence error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindSentinels(t *testing.T) {
	err := Errorf(KindConfiguration, "inconsistent temperature across complexes")
	wrapped := fmt.Errorf("new solver: %w", err)

	assert.True(t, stderrors.Is(wrapped, ErrConfiguration))
	assert.False(t, stderrors.Is(wrapped, ErrInvalidArgument))
	assert.True(t, Is(Wrap(wrapped, "outer"), ErrConfiguration))

	var target *Error
	require.True(t, As(wrapped, &target))
	assert.Equal(t, KindConfiguration, target.Kind)
	assert.NotEmpty(t, target.StackTrace())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("plain")))
	assert.Equal(t, KindNotFound, KindOf(New(KindNotFound, "x")))
	assert.Equal(t, KindConvergence, KindOf(fmt.Errorf("ctx: %w", kindedError{KindConvergence})))
	assert.Nil(t, Wrap(nil, "nothing"))
	assert.Nil(t, Wrapf(nil, "nothing %d", 1))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(KindInvalidArgument, "x")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(KindConfiguration, "x")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(New(KindNotFound, "x")))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(kindedError{KindConvergence}))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(fmt.Errorf("plain")))
}

func TestRecoveryMiddleware(t *testing.T) {
	logger, err := logging.NewLogger(&logging.Config{Level: "error", Output: "stderr"})
	require.NoError(t, err)

	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("solver exploded")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
