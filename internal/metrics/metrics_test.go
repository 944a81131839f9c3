package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestDomainCounters(t *testing.T) {
	Init()

	RequestDispatched("instagram", "processing")
	require.Equal(t, 1.0, testutil.ToFloat64(requestsDispatchedTotal.WithLabelValues("instagram", "processing")))

	PostsIngested("instagram", "webhook", 7)
	require.Equal(t, 7.0, testutil.ToFloat64(postsIngestedTotal.WithLabelValues("instagram", "webhook")))

	// Non-positive counts are ignored.
	PostsIngested("instagram", "webhook", 0)
	require.Equal(t, 7.0, testutil.ToFloat64(postsIngestedTotal.WithLabelValues("instagram", "webhook")))

	WebhookReceived("brightdata", "matched")
	require.Equal(t, 1.0, testutil.ToFloat64(webhooksTotal.WithLabelValues("brightdata", "matched")))

	SweeperPoll("not_ready")
	require.Equal(t, 1.0, testutil.ToFloat64(sweeperPollsTotal.WithLabelValues("not_ready")))
}

func TestUninitializedCollectorsAreSafe(t *testing.T) {
	// Observation helpers must not panic before Init.
	saved := requestsDispatchedTotal
	requestsDispatchedTotal = nil
	RequestDispatched("instagram", "failed")
	requestsDispatchedTotal = saved
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	Init()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	require.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")))

	ObserveProviderCall("brightdata", "dispatch", 120*time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(providerCallSeconds))
}
