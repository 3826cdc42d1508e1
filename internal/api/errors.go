package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/samcharles93/graft/pkg/graft"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	param string
	msg   string
}

func (e invalidRequestError) Error() string {
	return e.param + ": " + e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(param, msg string) error {
	return invalidRequestError{param: param, msg: msg}
}

// apiError is the HTTP rendering of a failed request.
type apiError struct {
	status int
	body   ResponseError
}

// classify maps an error from decoding, selection or the forward itself to
// its status and error body. Anything unrecognised is a forward failure.
func classify(err error) apiError {
	var (
		inv     invalidRequestError
		unknown *graft.UnknownAdapterNameError
	)
	switch {
	case errors.As(err, &inv):
		return apiError{http.StatusBadRequest, ResponseError{Message: inv.msg, Type: "invalid_request_error", Param: inv.param}}
	case errors.As(err, &unknown):
		return apiError{http.StatusNotFound, ResponseError{
			Message: err.Error(), Type: "not_found_error", Param: "adapters", Code: "unknown_adapter",
		}}
	case errors.Is(err, context.DeadlineExceeded):
		return apiError{http.StatusGatewayTimeout, ResponseError{Message: err.Error(), Type: "timeout_error"}}
	case errors.Is(err, context.Canceled):
		return apiError{http.StatusServiceUnavailable, ResponseError{Message: err.Error(), Type: "canceled_error"}}
	default:
		return apiError{http.StatusUnprocessableEntity, ResponseError{Message: err.Error(), Type: "forward_error"}}
	}
}

// badRequest marks err (typically a JSON decode failure) as the client's fault.
func badRequest(err error) error {
	var inv invalidRequestError
	if errors.As(err, &inv) {
		return err
	}
	return invalidRequestError{msg: err.Error()}
}
