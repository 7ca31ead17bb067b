package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/samcharles93/kspan/internal/beam"
	"github.com/samcharles93/kspan/internal/inference"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg   string
	param string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg, param string) error {
	return invalidRequestError{msg: msg, param: param}
}

// errorStatus maps an engine error to an HTTP status, error type and
// offending parameter.
func errorStatus(err error) (status int, errType, param, code string) {
	var ire invalidRequestError
	switch {
	case errors.As(err, &ire):
		return http.StatusBadRequest, "invalid_request_error", ire.param, ""
	case errors.Is(err, inference.ErrInvalidRequest), errors.Is(err, beam.ErrConfig):
		return http.StatusBadRequest, "invalid_request_error", inference.ErrorParam(err), ""
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "server_error", "", "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "server_error", "", "canceled"
	case errors.Is(err, beam.ErrDecoder):
		return http.StatusInternalServerError, "decode_error", "", "decoder_failed"
	case errors.Is(err, beam.ErrShape), errors.Is(err, beam.ErrNonFinite):
		return http.StatusInternalServerError, "decode_error", "", "contract_violation"
	default:
		return http.StatusInternalServerError, "server_error", "", ""
	}
}
