package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscribe/soapflow/internal/apperr"
	"github.com/medscribe/soapflow/internal/domain/soapnote"
	"github.com/medscribe/soapflow/pkg/circuitbreaker"
)

func TestObserveIssues(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveIssues(soapnote.Validate(soapnote.Note{}, nil))

	assert.Equal(t, 4.0, testutil.ToFloat64(m.ValidationIssues.WithLabelValues("subjective", "warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationIssues.WithLabelValues("plan", "error")))
}

func TestObserveLLM(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveLLM("llm.generate_note", nil, 2*time.Second)
	m.ObserveLLM("llm.generate_note", apperr.E(apperr.KindUpstream, "x", errors.New("500")), time.Second)

	assert.Equal(t, 2, testutil.CollectAndCount(m.LLMDuration))
}

func TestSetBreakerState(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetBreakerState("llm", circuitbreaker.StateOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("llm")))

	m.SetBreakerState("llm", circuitbreaker.StateHalfOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("llm")))

	m.SetBreakerState("llm", circuitbreaker.StateClosed)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("llm")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.CodeSuggestions.WithLabelValues("cache").Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `soapflow_codes_suggestions_total{source="cache"} 1`)
}
