package middleware

import "github.com/labstack/echo/v4"

const apiCSP = "default-src 'none'; frame-ancestors 'none'"

// pageCSP admits the Swagger UI bundle from unpkg and its inline bootstrap.
const pageCSP = "default-src 'self'; script-src 'self' 'unsafe-inline' https://unpkg.com; " +
	"style-src 'self' 'unsafe-inline' https://unpkg.com; img-src 'self' data:; frame-ancestors 'none'"

var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	// assembled messages carry patient data
	{"Cache-Control", "no-store"},
}

// SecurityHeaders sets the response headers for a JSON and plain-text API.
// Requests for pagePaths get a content security policy that admits the
// API documentation page.
func SecurityHeaders(pagePaths ...string) echo.MiddlewareFunc {
	pages := make(map[string]struct{}, len(pagePaths))
	for _, p := range pagePaths {
		pages[p] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range apiHeaders {
				h.Set(kv[0], kv[1])
			}
			if _, ok := pages[c.Request().URL.Path]; ok {
				h.Set("Content-Security-Policy", pageCSP)
			} else {
				h.Set("Content-Security-Policy", apiCSP)
			}
			return next(c)
		}
	}
}
