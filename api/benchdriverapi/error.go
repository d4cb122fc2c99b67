package benchdriverapi

import (
	"encoding/json"
	"net/http"
)

// StatusError carries the HTTP status a worker answers a failed request with.
type StatusError struct {
	Code    int
	Err     error
	Display error
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func (e *StatusError) StatusCode() int {
	return e.Code
}

func (e *StatusError) DisplayError() error {
	if err := e.Display; err != nil {
		return err
	}
	return e.Err
}

func (e *StatusError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"error": e.DisplayError().Error(),
	})
}

func ErrorBadRequest(err error) *StatusError {
	return &StatusError{http.StatusBadRequest, err, nil}
}

func ErrorBusy(err error) *StatusError {
	return &StatusError{http.StatusConflict, err, nil}
}

func ErrorNotFound(err error) *StatusError {
	return &StatusError{http.StatusNotFound, err, nil}
}

func ErrorUnavailable(err error) *StatusError {
	return &StatusError{http.StatusServiceUnavailable, err, nil}
}
