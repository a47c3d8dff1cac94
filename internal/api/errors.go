package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/samcharles93/nhrun/internal/config"
	"github.com/samcharles93/nhrun/internal/runlock"
	"github.com/samcharles93/nhrun/internal/runmode"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps a dispatch error to an HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, runmode.ErrInvalidArguments),
		errors.Is(err, runmode.ErrUnknownMode),
		errors.Is(err, runmode.ErrNoFinetuneModules),
		errors.Is(err, runmode.ErrNoBaseRun),
		errors.Is(err, config.ErrFieldType),
		errors.Is(err, config.ErrDecode),
		errors.Is(err, os.ErrPermission):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, runlock.ErrLocked):
		return http.StatusConflict, "conflict_error"
	case errors.Is(err, runmode.ErrEngine):
		return http.StatusBadGateway, "engine_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
