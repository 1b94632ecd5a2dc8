package middleware

import "github.com/labstack/echo/v4"

// UserID returns the authenticated subject, or "" when there is none.
func UserID(c echo.Context) string {
	s, _ := c.Get(KeyUserID).(string)
	return s
}

// DeviceID identifies the calling gate device: the token's device claim,
// falling back to the X-Device-ID header.
func DeviceID(c echo.Context) string {
	if s, ok := c.Get(KeyDeviceID).(string); ok && s != "" {
		return s
	}
	return c.Request().Header.Get("X-Device-ID")
}
