package errutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaseErrorWrapping(t *testing.T) {
	cause := errors.New("sheet unavailable")
	err := ServiceUnavailable("ledger write failed", cause)

	require.ErrorIs(t, err, cause)
	require.Equal(t, StatusServiceUnavailable, StatusOf(err))
	require.Equal(t, "[service_unavailable] ledger write failed: sheet unavailable", err.Error())
}

func TestStatusOfWrapped(t *testing.T) {
	err := fmt.Errorf("intake: %w", ValidationFailed("invalid session id", nil))
	require.Equal(t, StatusValidationFailed, StatusOf(err))
	require.Equal(t, StatusInternal, StatusOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[CoreStatus]int{
		StatusValidationFailed:     http.StatusBadRequest,
		StatusUnauthorized:         http.StatusUnauthorized,
		StatusRequestTooLarge:      http.StatusRequestEntityTooLarge,
		StatusUnsupportedMediaType: http.StatusUnsupportedMediaType,
		StatusBadGateway:           http.StatusBadGateway,
		StatusUnknown:              http.StatusInternalServerError,
	}
	for status, want := range cases {
		require.Equal(t, want, status.HTTPStatus(), string(status))
	}
}

func TestBaseErrorJSON(t *testing.T) {
	err := BadRequest("invalid form", nil, WithDetails(Detail{Field: "session_id", Message: "required"}))
	var be BaseError
	require.True(t, errors.As(err, &be))

	body := be.JSON().(map[string]interface{})["error"].(map[string]interface{})
	require.Equal(t, StatusBadRequest, body["code"])
	require.Equal(t, "invalid form", body["message"])
	require.Len(t, body["details"], 1)
}
