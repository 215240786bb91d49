package cases

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/annotator/internal/domain/annotation"
	"github.com/ehr/annotator/internal/platform/auth"
	"github.com/ehr/annotator/internal/platform/workspace"
	"github.com/ehr/annotator/pkg/pagination"
)

// DownloadName is the attachment name of a downloaded workspace.
const DownloadName = "annotation_result.json"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the case endpoints on a group that already carries
// the session middleware.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/cases", h.ListCases)
	api.GET("/cases/next", h.NextCase)
	api.GET("/cases/:id", h.GetCase)
	api.GET("/cases/:id/reports", h.GetReports)
	api.PUT("/cases/:id/annotation", h.SaveAnnotation)
	api.GET("/schema", h.GetSchema)

	api.POST("/workspace/upload", h.Upload)
	api.GET("/workspace/download", h.Download)
}

func (h *Handler) ListCases(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), user, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) NextCase(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	pos, err := h.svc.NextUnverified(c.Request().Context(), user)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pos)
}

func (h *Handler) GetCase(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	view, err := h.svc.Get(c.Request().Context(), user, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) GetReports(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	groups, err := h.svc.Reports(c.Request().Context(), user, c.Param("id"), c.QueryParam("first_meta_date"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"case_id": c.Param("id"),
		"groups":  groups,
	})
}

func (h *Handler) SaveAnnotation(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var d annotation.Draft
	if err := c.Bind(&d); err != nil {
		return bodyError(err)
	}
	d.CaseID = c.Param("id")

	res, err := h.svc.Save(c.Request().Context(), user, d)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetSchema(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"root":   h.svc.Schema().Root(),
		"fields": h.svc.Schema().Fields(),
	})
}

// Upload accepts either a multipart form with a "file" part or the JSON
// document as the raw request body.
func (h *Handler) Upload(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	data, err := uploadBody(c)
	if err != nil {
		return bodyError(err)
	}
	n, err := h.svc.Upload(c.Request().Context(), user, data)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"cases": n})
}

func (h *Handler) Download(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	data, err := h.svc.Download(c.Request().Context(), user)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+DownloadName+`"`)
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSONCharsetUTF8, data)
}

// errMissingFilePart is returned for a multipart upload without a "file" part.
var errMissingFilePart = errors.New("missing file part")

func uploadBody(c echo.Context) ([]byte, error) {
	if !strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		return io.ReadAll(c.Request().Body)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var he *echo.HTTPError
		if errors.Is(err, http.ErrMissingFile) || !errors.As(err, &he) {
			return nil, fmt.Errorf("%w: %v", errMissingFilePart, err)
		}
		return nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// bodyError keeps HTTP errors raised while reading the body, such as the
// 413 from the body limit, and reports anything else as 400.
func bodyError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func currentUser(c echo.Context) (string, error) {
	user := auth.UserIDFromContext(c.Request().Context())
	if user == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, auth.ErrMissingToken.Error())
	}
	return user, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrCaseNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidDocument), errors.Is(err, workspace.ErrInvalidEmail):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
