package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentHandlerUsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(InstrumentHandler)
	router.HandleFunc("/children/{address}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodPut)

	before := testutil.ToFloat64(httpRequests.WithLabelValues("PUT", "/children/{address}", "404"))

	req := httptest.NewRequest(http.MethodPut, "/children/0xabc", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	after := testutil.ToFloat64(httpRequests.WithLabelValues("PUT", "/children/{address}", "404"))
	assert.Equal(t, before+1, after)
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(connections.WithLabelValues(OutcomeCreated))
	RecordConnection(OutcomeCreated)
	assert.Equal(t, before+1, testutil.ToFloat64(connections.WithLabelValues(OutcomeCreated)))

	before = testutil.ToFloat64(storeDegraded)
	RecordStoreDegraded()
	assert.Equal(t, before+1, testutil.ToFloat64(storeDegraded))

	RecordProvisioning(ResultSkipped)
	RecordFundingTransfer(ResultFailed)
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordConnection(OutcomeUpdated)

	server := httptest.NewServer(Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "delegation_connections_total")
}
