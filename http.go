package auth

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	goerrors "github.com/goliatone/go-errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrorPayload is the JSON body of every failed request
type ErrorPayload struct {
	Error    string            `json:"error"`
	TextCode string            `json:"text_code,omitempty"`
	Category string            `json:"category,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// NewErrorHandler returns a fiber.ErrorHandler that renders lifecycle
// errors as JSON with the status carried by the error.
func NewErrorHandler(logger Logger) fiber.ErrorHandler {
	logger = normalizeLogger(logger)
	return func(c *fiber.Ctx, err error) error {
		status := statusFromError(err)

		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			if fiberErr, ok := err.(*fiber.Error); ok {
				richErr = goerrors.New(fiberErr.Message, goerrors.HTTPStatusToCategory(fiberErr.Code)).
					WithTextCode(goerrors.HTTPStatusToTextCode(fiberErr.Code)).
					WithCode(fiberErr.Code)
			} else {
				richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
					WithCode(goerrors.CodeInternal)
			}
		}

		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				"path", c.Path(),
				"status", status,
				"error", err,
			)
		} else {
			logger.Info("request rejected",
				"path", c.Path(),
				"status", status,
				"text_code", richErr.TextCode,
			)
		}

		payload := ErrorPayload{
			Error:    richErr.Message,
			TextCode: richErr.TextCode,
			Category: richErr.Category.String(),
		}
		if fields := richErr.ValidationMap(); len(fields) > 0 {
			payload.Fields = fields
		}

		return c.Status(status).JSON(payload)
	}
}

// MetricsHandler exposes the registry in the prometheus text format
func MetricsHandler(gatherer prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

func setCookieToken(c *fiber.Ctx, name, val string, expires *time.Time) {
	cookie := &fiber.Cookie{
		Name:     name,
		Value:    val,
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	}
	if expires != nil {
		cookie.Expires = *expires
	}
	c.Cookie(cookie)
}
