package error

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// CircuitOpenError is a local rejection: no network call was attempted and
// the caller must back off for at least RetryAfter.
type CircuitOpenError struct {
	Key        string
	Reason     string
	RetryAfter time.Duration
}

func (err *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s (%s), retry after %s", err.Key, err.Reason, err.RetryAfter.Round(time.Second))
}

func (err *CircuitOpenError) ErrCode() string {
	return "CIRCUIT_OPEN"
}

func (err *CircuitOpenError) StatusCode() int {
	return http.StatusServiceUnavailable
}

func IsCircuitOpen(err error) bool {
	var target *CircuitOpenError
	return errors.As(err, &target)
}
