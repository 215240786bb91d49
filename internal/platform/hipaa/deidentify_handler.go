package hipaa

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterDeidentifyRoutes mounts POST /deidentify on the API group.
func RegisterDeidentifyRoutes(g *echo.Group) {
	g.POST("/deidentify", HandleDeidentify)
}

type deidentifyRequest struct {
	Text     string `json:"text"`
	Modality string `json:"modality"`
}

// HandleDeidentify handles POST /api/v1/deidentify. It runs the advisory
// report cleanup on caller-supplied text; nothing is stored.
func HandleDeidentify(c echo.Context) error {
	var req deidentifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	content := CompactText(Deidentify(req.Text, req.Modality))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"content": content,
		"empty":   content == "",
	})
}
