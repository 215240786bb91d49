package dates

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes mounts GET /dates/normalize on the API group.
func RegisterRoutes(g *echo.Group) {
	g.GET("/dates/normalize", HandleNormalize)
}

// HandleNormalize handles GET /api/v1/dates/normalize?value=.
func HandleNormalize(c echo.Context) error {
	value := c.QueryParam("value")
	normalized, ok := Normalize(value)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"value":      value,
		"normalized": normalized,
		"ok":         ok,
	})
}
