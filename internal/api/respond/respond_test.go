package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscribe/soapflow/internal/apperr"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindValidation, http.StatusBadRequest},
		{apperr.KindUnauthorized, http.StatusUnauthorized},
		{apperr.KindNotFound, http.StatusNotFound},
		{apperr.KindBlocked, http.StatusUnprocessableEntity},
		{apperr.KindRateLimited, http.StatusTooManyRequests},
		{apperr.KindNetwork, http.StatusServiceUnavailable},
		{apperr.KindUpstream, http.StatusBadGateway},
		{apperr.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, Status(tt.kind))
		})
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestErrorUpstream(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, nil, apperr.Upstream("llm.generate", errors.New("status 500: overloaded")))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, ErrorBody{Error: "status 500: overloaded", Kind: "upstream", Retryable: true}, decodeBody(t, rec))
}

func TestErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, nil, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ErrorBody{Error: "internal server error", Kind: "internal"}, decodeBody(t, rec))
}

func TestFail(t *testing.T) {
	rec := httptest.NewRecorder()
	Fail(rec, apperr.KindNetwork, "model unreachable")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, ErrorBody{Error: "model unreachable", Kind: "network", Retryable: true}, decodeBody(t, rec))
}
