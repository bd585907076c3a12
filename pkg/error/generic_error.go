package error

import "errors"

// GenericError is implemented by every error the REST layer knows how to render.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}

// AsGeneric unwraps err until it finds a GenericError.
func AsGeneric(err error) (GenericError, bool) {
	var ge GenericError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
