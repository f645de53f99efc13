package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", NotFound("server %q", "alpha"), http.StatusNotFound},
		{"validation", Validation("bad path"), http.StatusBadRequest},
		{"invalid state", InvalidState("already running"), http.StatusConflict},
		{"timeout", Timeout("stop"), http.StatusGatewayTimeout},
		{"external", ExternalTool("java missing"), http.StatusFailedDependency},
		{"cancelled ctx", fmt.Errorf("install: %w", context.Canceled), http.StatusConflict},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestWrappersKeepMessage(t *testing.T) {
	err := NotFound("server %q", "my world")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, `server "my world": not found`, err.Error())
}
