package router

import (
	"github.com/gofiber/fiber/v2"
)

// HttpErrorHandler is the fiber ErrorHandler; it renders any error returned
// from a route through ResponseError.
func HttpErrorHandler(c *fiber.Ctx, err error) error {
	return ResponseError(c, err)
}
