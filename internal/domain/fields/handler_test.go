package fields

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/cliniccore/cliniccore/internal/platform/auth"
)

func TestHTTPErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"access denied", auth.ErrAccessDenied, http.StatusForbidden},
		{"wrapped access denied", fmt.Errorf("patient abc: %w", auth.ErrAccessDenied), http.StatusForbidden},
		{"not found", fmt.Errorf("definition xyz: %w", ErrNotFound), http.StatusNotFound},
		{"invalid state", fmt.Errorf("field is calculated: %w", ErrInvalidState), http.StatusConflict},
		{"validation", validationErr("weight", "above maximum"), http.StatusBadRequest},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he, ok := httpError(tt.err).(*echo.HTTPError)
			if !ok {
				t.Fatal("httpError must return *echo.HTTPError")
			}
			if he.Code != tt.want {
				t.Fatalf("status = %d, want %d", he.Code, tt.want)
			}
		})
	}
}
