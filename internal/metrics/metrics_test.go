package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelection(t *testing.T) {
	t.Parallel()

	require.Equal(t, SelectionGlobal, Selection(nil))
	require.Equal(t, SelectionNone, Selection([]string{}))
	require.Equal(t, "a,b", Selection([]string{"b", "a"}))
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestForwardCounters(t *testing.T) {
	t.Parallel()
	m := New()

	done := m.StartForward("a")
	require.Contains(t, scrape(t, m), "graft_forward_inflight 1")
	done(nil)
	m.StartForward("a")(errors.New("boom"))
	m.StartForward(SelectionGlobal)(nil)

	body := scrape(t, m)
	for _, want := range []string{
		"graft_forward_inflight 0",
		`graft_forward_total{outcome="ok",selection="a"} 1`,
		`graft_forward_total{outcome="error",selection="a"} 1`,
		`graft_forward_total{outcome="ok",selection="global"} 1`,
		`graft_forward_duration_seconds_count{selection="a"} 2`,
	} {
		require.Contains(t, body, want)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveRequest("/v1/forward", http.MethodPost, http.StatusOK)
	m.SetAdapters([]AdapterState{{Name: "default", Kind: "LORA", Active: true}, {Name: "p", Kind: "PROMPT"}})

	body := scrape(t, m)
	for _, want := range []string{
		`graft_http_requests_total{method="POST",route="/v1/forward",status="200"} 1`,
		`graft_adapter_active{adapter="default",kind="LORA"} 1`,
		`graft_adapter_active{adapter="p",kind="PROMPT"} 0`,
	} {
		require.True(t, strings.Contains(body, want), "missing %s in\n%s", want, body)
	}

	// a second registry does not collide with the first
	require.NotPanics(t, func() { New() })
}
