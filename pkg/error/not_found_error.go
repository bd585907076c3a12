package error

import (
	"errors"
	"fmt"
	"net/http"
)

type NotFoundError string

func NotFoundf(format string, args ...any) NotFoundError {
	return NotFoundError(fmt.Sprintf(format, args...))
}

func (err NotFoundError) Error() string {
	return string(err)
}

func (err NotFoundError) ErrCode() string {
	return "NOT_FOUND_ERROR"
}

func (err NotFoundError) StatusCode() int {
	return http.StatusNotFound
}

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}
