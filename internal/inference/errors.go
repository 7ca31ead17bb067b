package inference

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest marks errors caused by the caller's request rather
// than by the engine.
var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg   string
	param string
	cause error
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() []error {
	if e.cause != nil {
		return []error{ErrInvalidRequest, e.cause}
	}
	return []error{ErrInvalidRequest}
}

func invalidCause(err error) error {
	return invalidRequestError{msg: err.Error(), cause: err}
}

func invalidParam(param, format string, args ...any) error {
	return invalidRequestError{msg: fmt.Sprintf(format, args...), param: param}
}

// ErrorParam returns the request field an invalid request error refers
// to, if any.
func ErrorParam(err error) string {
	var ire invalidRequestError
	if errors.As(err, &ire) {
		return ire.param
	}
	return ""
}
