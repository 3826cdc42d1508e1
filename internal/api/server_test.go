package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/graft/internal/metrics"
	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/internal/toy"
	"github.com/samcharles93/graft/pkg/graft"
	"github.com/samcharles93/graft/pkg/tuner"
)

func newTestModel(t *testing.T) *graft.Model {
	t.Helper()
	host, err := toy.New(toy.Small())
	if err != nil {
		t.Fatalf("toy.New: %v", err)
	}
	m, err := graft.Prepare(host,
		graft.Named("a", &tuner.LoRAConfig{TargetModules: tuner.Names("query", "value"), R: 2, Init: "ones", Seed: 1}),
		graft.Named("b", &tuner.SideConfig{Dim: toy.Small().Hidden, TargetModules: tuner.Paths("encoder"), Seed: 2}),
	)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return m
}

func newTestEcho(t *testing.T) (*echo.Echo, *graft.Model) {
	t.Helper()
	m := newTestModel(t)
	e := echo.New()
	NewServer(m, metrics.New(), nil).Register(e)
	return e, m
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeForward(t *testing.T, rec *httptest.ResponseRecorder) ForwardResponse {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var resp ForwardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode forward response: %v", err)
	}
	return resp
}

// expected computes the logits the server should return for ids under names.
func expected(t *testing.T, m *graft.Model, names []string, ids ...int) []float32 {
	t.Helper()
	ctx := context.Background()
	if names != nil {
		var err error
		if ctx, err = m.WithActiveAdapters(ctx, names...); err != nil {
			t.Fatalf("WithActiveAdapters: %v", err)
		}
	}
	out, err := m.Forward(ctx, toy.Inputs(ids...))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	return out.At(0).Row(0)
}

func TestForwardSelection(t *testing.T) {
	t.Parallel()
	e, m := newTestEcho(t)

	tests := []struct {
		body  string
		names []string
		want  []string
	}{
		{`{"input_ids":[1,2,3]}`, nil, []string{"a", "b"}},
		{`{"input_ids":[1,2,3],"adapters":["a"]}`, []string{"a"}, []string{"a"}},
		{`{"input_ids":[1,2,3],"adapters":["b"]}`, []string{"b"}, []string{"b"}},
		{`{"input_ids":[1,2,3],"adapters":[]}`, []string{}, []string{}},
	}
	for _, tc := range tests {
		resp := decodeForward(t, doJSON(t, e, http.MethodPost, "/v1/forward", tc.body))
		if !strings.HasPrefix(resp.ID, "fwd_") || resp.Object != "forward" {
			t.Fatalf("%s: unexpected envelope %+v", tc.body, resp)
		}
		if strings.Join(resp.Adapters, ",") != strings.Join(tc.want, ",") {
			t.Fatalf("%s: adapters %v, want %v", tc.body, resp.Adapters, tc.want)
		}
		want := expected(t, m, tc.names, 1, 2, 3)
		if len(resp.Outputs) != 1 || !tensor.Equal(tensor.Vec(resp.Outputs[0]), tensor.Vec(want)) {
			t.Fatalf("%s: outputs %v, want %v", tc.body, resp.Outputs, want)
		}
	}
}

func TestForwardConcurrentSelections(t *testing.T) {
	t.Parallel()
	e, m := newTestEcho(t)
	wantA := expected(t, m, []string{"a"}, 4, 5, 6)
	wantB := expected(t, m, []string{"b"}, 4, 5, 6)

	var wg sync.WaitGroup
	errs := make(chan string, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, want := "a", wantA
			if i%2 == 1 {
				name, want = "b", wantB
			}
			req := httptest.NewRequest(http.MethodPost, "/v1/forward",
				strings.NewReader(`{"input_ids":[4,5,6],"adapters":["`+name+`"]}`))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			var resp ForwardResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || len(resp.Outputs) != 1 {
				errs <- rec.Body.String()
				return
			}
			if !tensor.Equal(tensor.Vec(resp.Outputs[0]), tensor.Vec(want)) {
				errs <- "selection " + name + " leaked"
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}

func TestForwardErrors(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(t)

	tests := []struct {
		body   string
		status int
		want   string
	}{
		{`{"input_ids":[]}`, http.StatusBadRequest, "must not be empty"},
		{`{"input_ids":[1,-2]}`, http.StatusBadRequest, "negative id"},
		{`{"input_ids":[1,2],"attention_mask":[1]}`, http.StatusBadRequest, `"param":"attention_mask"`},
		{`{"input_ids":[1,2],"attention_mask":[1,2]}`, http.StatusBadRequest, "want 0 or 1"},
		{`{"input_ids":[1],"extra":true}`, http.StatusBadRequest, "invalid_request_error"},
		{`not json`, http.StatusBadRequest, "invalid_request_error"},
		{`{"input_ids":[1],"adapters":["ghost"]}`, http.StatusNotFound, "not_found_error"},
		{`{"input_ids":[1000]}`, http.StatusUnprocessableEntity, "out of range"},
	}
	for _, tc := range tests {
		rec := doJSON(t, e, http.MethodPost, "/v1/forward", tc.body)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d body=%s", tc.body, tc.status, rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), tc.want) {
			t.Fatalf("%s: expected %q in body: %s", tc.body, tc.want, rec.Body.String())
		}
	}
}

func TestAdaptersAndMetrics(t *testing.T) {
	t.Parallel()
	e, m := newTestEcho(t)
	if err := m.DeactivateAdapter("b"); err != nil {
		t.Fatalf("DeactivateAdapter: %v", err)
	}

	rec := doJSON(t, e, http.MethodGet, "/v1/adapters", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("adapters status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var list AdapterList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode adapters: %v", err)
	}
	if len(list.Data) != 2 || list.Data[0].Name != "a" || !list.Data[0].Active || list.Data[1].Active {
		t.Fatalf("unexpected adapter list: %+v", list)
	}
	if list.Data[0].Kind != tuner.KindLoRA || !list.Data[0].Mergeable || list.Data[0].Points != 4 {
		t.Fatalf("unexpected lora info: %+v", list.Data[0])
	}

	decodeForward(t, doJSON(t, e, http.MethodPost, "/v1/forward", `{"input_ids":[1],"adapters":["b","a"]}`))

	rec = doJSON(t, e, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status: got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`graft_forward_total{outcome="ok",selection="a,b"} 1`,
		`graft_http_requests_total{method="GET",route="/v1/adapters",status="200"} 1`,
		`graft_adapter_active{adapter="b",kind="SIDE"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in metrics:\n%s", want, body)
		}
	}
}
