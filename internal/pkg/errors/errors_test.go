package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New(CodeSagaNotFound, "saga not found", http.StatusNotFound),
			want: "SAGA_NOT_FOUND: saga not found",
		},
		{
			name: "with wrapped error",
			err:  Wrap(fmt.Errorf("db error"), CodeStoreFailure, "append failed", http.StatusInternalServerError),
			want: "EVENT_STORE_FAILURE: append failed: db error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap(inner, "CODE", "msg", 500)

	if !errors.Is(appErr, inner) {
		t.Error("errors.Is should match inner error")
	}
}

func TestSentinelConstructors(t *testing.T) {
	err := UnknownSagaType("ORDER_FULFILLMENT")
	if !errors.Is(err, ErrUnknownSagaType) {
		t.Error("UnknownSagaType should wrap ErrUnknownSagaType")
	}
	if err.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want 400", err.HTTPStatus)
	}

	nf := SagaNotFound("missing-id")
	if !errors.Is(nf, ErrSagaNotFound) {
		t.Error("SagaNotFound should wrap ErrSagaNotFound")
	}
	if nf.HTTPStatus != http.StatusNotFound {
		t.Errorf("HTTPStatus = %d, want 404", nf.HTTPStatus)
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NotFound(CodeSagaNotFound, "saga not found")
	wrapped := fmt.Errorf("wrapped: %w", appErr)

	got, ok := IsAppError(wrapped)
	if !ok {
		t.Fatal("IsAppError should find the AppError through wrapping")
	}
	if got.Code != CodeSagaNotFound {
		t.Errorf("Code = %q, want %q", got.Code, CodeSagaNotFound)
	}

	if _, ok := IsAppError(errors.New("plain")); ok {
		t.Error("IsAppError should not match plain errors")
	}
}
