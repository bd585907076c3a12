package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Recovery turns a panic in a handler into an error response. Handlers that
// call utils.PanicIfNeeded rely on it.
func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				recovered, ok := r.(error)
				if !ok {
					recovered = fmt.Errorf("%v", r)
				}
				logrus.WithField("path", ctx.Path()).Errorf("[REST] Panic recovered in middleware: %v", r)
				err = WriteError(ctx, recovered)
			}
		}()

		return ctx.Next()
	}
}
