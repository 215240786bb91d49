package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/annotator/internal/platform/workspace"
)

// WorkspaceInitializer prepares a user's workspace when a session starts.
type WorkspaceInitializer interface {
	Init(ctx context.Context, user string) (string, error)
}

// SessionHandler starts sessions for a self-asserted email.
type SessionHandler struct {
	sessions   *Sessions
	workspaces WorkspaceInitializer
}

func NewSessionHandler(sessions *Sessions, workspaces WorkspaceInitializer) *SessionHandler {
	return &SessionHandler{sessions: sessions, workspaces: workspaces}
}

// RegisterSessionRoutes mounts POST /session on a public group.
func RegisterSessionRoutes(g *echo.Group, sessions *Sessions, workspaces WorkspaceInitializer) {
	h := NewSessionHandler(sessions, workspaces)
	g.POST("/session", h.HandleCreateSession)
}

type sessionRequest struct {
	Email string `json:"email"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	Workspace string    `json:"workspace"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleCreateSession handles POST /api/v1/session.
func (h *SessionHandler) HandleCreateSession(c echo.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	token, email, expiresAt, err := h.sessions.Issue(req.Email)
	if err != nil {
		if errors.Is(err, workspace.ErrInvalidEmail) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if h.workspaces != nil {
		if _, err := h.workspaces.Init(c.Request().Context(), email); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.JSON(http.StatusCreated, sessionResponse{
		Token:     token,
		Email:     email,
		Workspace: workspace.UserID(email),
		ExpiresAt: expiresAt,
	})
}
