package error

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ExternalAPIError means the gateway answered with a non-success status, or
// could not be reached at all (Upstream 0).
type ExternalAPIError struct {
	Operation string
	Upstream  int // HTTP status returned by the gateway
	Body      string
	Err       error
}

func (err *ExternalAPIError) Error() string {
	if err.Upstream == 0 {
		return fmt.Sprintf("gateway %s failed: %v", err.Operation, err.Err)
	}
	if err.Body != "" {
		return fmt.Sprintf("gateway %s returned %d: %s", err.Operation, err.Upstream, err.Body)
	}
	return fmt.Sprintf("gateway %s returned %d", err.Operation, err.Upstream)
}

func (err *ExternalAPIError) Unwrap() error { return err.Err }

func (err *ExternalAPIError) ErrCode() string {
	return "EXTERNAL_API_ERROR"
}

func (err *ExternalAPIError) StatusCode() int {
	return http.StatusBadGateway
}

type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (err *TimeoutError) Error() string {
	return fmt.Sprintf("gateway %s timed out after %s", err.Operation, err.Timeout)
}

func (err *TimeoutError) ErrCode() string {
	return "GATEWAY_TIMEOUT"
}

func (err *TimeoutError) StatusCode() int {
	return http.StatusGatewayTimeout
}

func IsExternalAPI(err error) bool {
	var target *ExternalAPIError
	return errors.As(err, &target)
}

func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}
