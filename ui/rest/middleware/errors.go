package middleware

import (
	"errors"
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/utils"
	"github.com/sirupsen/logrus"
)

// WriteError renders err with the response envelope. Typed errors keep
// their status and code; anything else is a 500.
func WriteError(c *fiber.Ctx, err error) error {
	res := utils.ResponseData{
		Status:  fiber.StatusInternalServerError,
		Code:    "INTERNAL_SERVER_ERROR",
		Message: err.Error(),
	}

	var fe *fiber.Error
	if ge, ok := pkgError.AsGeneric(err); ok {
		res.Status = ge.StatusCode()
		res.Code = ge.ErrCode()
		res.Message = ge.Error()
	} else if errors.As(err, &fe) {
		res.Status = fe.Code
		res.Code = codeForStatus(fe.Code)
		res.Message = fe.Message
	}

	var verr *pkgError.ValidationError
	if errors.As(err, &verr) {
		res.Results = fiber.Map{"violations": verr.Violations}
	}
	var open *pkgError.CircuitOpenError
	if errors.As(err, &open) {
		c.Set(fiber.HeaderRetryAfter, RetryAfterSeconds(open.RetryAfter.Seconds()))
	}

	if res.Status >= fiber.StatusInternalServerError {
		logrus.WithError(err).WithFields(logrus.Fields{
			"method": c.Method(),
			"path":   c.Path(),
			"status": res.Status,
		}).Error("[REST] Request failed")
	}
	return c.Status(res.Status).JSON(res)
}

// ErrorHandler plugs WriteError into fiber.Config.
func ErrorHandler(c *fiber.Ctx, err error) error {
	return WriteError(c, err)
}

// RetryAfterSeconds rounds up, never below one second.
func RetryAfterSeconds(seconds float64) string {
	s := int(math.Ceil(seconds))
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(s)
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case fiber.StatusTooManyRequests:
		return "TOO_MANY_REQUESTS"
	}
	return "INTERNAL_SERVER_ERROR"
}
