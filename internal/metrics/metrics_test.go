package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.RecordReply("direct_message", "sent")
	m.RecordVerdict("not_eligible")
	m.RecordHealthCheck("healthy")
	m.RecordTransportError("sendMessage", "retryable")
	m.SessionsActive.Set(3)
	m.PresenceCyclesTotal.Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "replyd_replies_total")
	assert.Contains(t, body, "replyd_sessions_active 3")
	assert.Contains(t, body, "replyd_presence_cycles_total 1")
}
