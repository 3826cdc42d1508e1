package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/samcharles93/graft/pkg/graft"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		status int
		typ    string
		param  string
	}{
		{newInvalidRequest("input_ids", "must not be empty"), http.StatusBadRequest, "invalid_request_error", "input_ids"},
		{badRequest(errors.New("unexpected EOF")), http.StatusBadRequest, "invalid_request_error", ""},
		{fmt.Errorf("select: %w", &graft.UnknownAdapterNameError{Name: "x"}), http.StatusNotFound, "not_found_error", "adapters"},
		{fmt.Errorf("layer 0: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "timeout_error", ""},
		{context.Canceled, http.StatusServiceUnavailable, "canceled_error", ""},
		{errors.New("embedding: id 9 out of range"), http.StatusUnprocessableEntity, "forward_error", ""},
	}
	for _, tc := range tests {
		got := classify(tc.err)
		if got.status != tc.status || got.body.Type != tc.typ || got.body.Param != tc.param {
			t.Fatalf("%v: got %d %s %q, want %d %s %q", tc.err, got.status, got.body.Type, got.body.Param, tc.status, tc.typ, tc.param)
		}
	}

	if !errors.Is(badRequest(errors.New("x")), ErrInvalidRequest) {
		t.Fatalf("badRequest should wrap ErrInvalidRequest")
	}
}
