package error

import (
	"errors"
	"net/http"
)

type ConflictError string

func (err ConflictError) Error() string {
	return string(err)
}

func (err ConflictError) ErrCode() string {
	return "CONFLICT_ERROR"
}

func (err ConflictError) StatusCode() int {
	return http.StatusConflict
}

// AlreadyConnectedError is returned by the gateway when a session is already
// live. Callers usually treat it as success with a note.
type AlreadyConnectedError struct {
	Instance string
}

func (err AlreadyConnectedError) Error() string {
	return "instance " + err.Instance + " is already connected"
}

func (err AlreadyConnectedError) ErrCode() string {
	return "ALREADY_CONNECTED"
}

func (err AlreadyConnectedError) StatusCode() int {
	return http.StatusConflict
}

func IsConflict(err error) bool {
	var c ConflictError
	if errors.As(err, &c) {
		return true
	}
	return IsAlreadyConnected(err)
}

func IsAlreadyConnected(err error) bool {
	var target AlreadyConnectedError
	return errors.As(err, &target)
}
