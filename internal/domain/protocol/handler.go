package protocol

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/protocolo/protocolo/internal/platform/auth"
)

type Handler struct {
	svc      *Service
	sessions *auth.Sessions
	users    auth.Directory
}

func NewHandler(svc *Service, sessions *auth.Sessions, users auth.Directory) *Handler {
	return &Handler{svc: svc, sessions: sessions, users: users}
}

func (h *Handler) RegisterRoutes(e *echo.Echo, requireSession echo.MiddlewareFunc) {
	e.GET("/login", h.LoginForm)
	e.POST("/login", h.Login)
	e.GET("/logout", h.Logout)

	g := e.Group("", requireSession)
	g.GET("/", h.Home)
	g.GET("/list", h.ListActive)
	g.GET("/list-inactive", h.ListFinalized)
	g.GET("/print/:id", h.Print)
	g.GET("/reprint/:id", h.Reprint)
	g.POST("/save", h.Save)
	g.POST("/finalize/:id", h.Finalize)
	g.POST("/reactivate/:id", h.Reactivate)
	g.POST("/edit-priority/:id", h.EditPriority)
}

// -- Authentication --

func (h *Handler) LoginForm(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"message": "post username and password to /login",
	})
}

func (h *Handler) Login(c echo.Context) error {
	username := c.FormValue("username")
	password := c.FormValue("password")

	ident, ok := h.users.Authenticate(username, password)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid username or password")
	}

	token, err := h.sessions.Issue(ident)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "issue session")
	}
	c.SetCookie(h.sessions.Cookie(token))
	return c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) Logout(c echo.Context) error {
	c.SetCookie(h.sessions.ClearCookie())
	return c.Redirect(http.StatusFound, auth.LoginPath)
}

// -- Record operations --

func (h *Handler) Home(c echo.Context) error {
	ident, _ := auth.FromContext(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]interface{}{
		"user":       ident.Name,
		"username":   ident.Username,
		"is_admin":   ident.IsAdmin(),
		"priorities": Priorities(),
	})
}

// SaveRequest binds the creation form.
type SaveRequest struct {
	PatientName          string `form:"patient_name" json:"patient_name"`
	PatientPhone         string `form:"patient_phone" json:"patient_phone"`
	RequestingPhysician  string `form:"requesting_physician" json:"requesting_physician"`
	OriginUnit           string `form:"origin_unit" json:"origin_unit"`
	ExamSpecialty        string `form:"exam_specialty" json:"exam_specialty"`
	Priority             string `form:"priority" json:"priority"`
	PhysicianRequestDate string `form:"physician_request_date" json:"physician_request_date"`
}

func (h *Handler) Save(c echo.Context) error {
	ident, _ := auth.FromContext(c.Request().Context())

	var req SaveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p, err := h.svc.Create(c.Request().Context(), ident, CreateInput{
		PatientName:          req.PatientName,
		PatientPhone:         req.PatientPhone,
		RequestingPhysician:  req.RequestingPhysician,
		OriginUnit:           req.OriginUnit,
		ExamSpecialty:        req.ExamSpecialty,
		Priority:             req.Priority,
		PhysicianRequestDate: req.PhysicianRequestDate,
	})
	if err != nil {
		return httpError(err)
	}

	c.Response().Header().Set("Location", "/print/"+strconv.FormatInt(p.ID, 10))
	return c.JSON(http.StatusCreated, LiveView(p))
}

func (h *Handler) Print(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	view, err := h.svc.Print(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Reprint(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	view, rec, err := h.svc.Reprint(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrSnapshotUnavailable) || errors.Is(err, ErrSnapshotCorrupt) {
			code := "snapshot_corrupt"
			if errors.Is(err, ErrSnapshotUnavailable) {
				code = "snapshot_unavailable"
			}
			return c.JSON(http.StatusConflict, map[string]string{
				"error":     code,
				"message":   err.Error(),
				"return_to": listPathFor(rec),
			})
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) ListActive(c echo.Context) error {
	return h.list(c, StatusActive)
}

func (h *Handler) ListFinalized(c echo.Context) error {
	return h.list(c, StatusFinalized)
}

func (h *Handler) list(c echo.Context, status string) error {
	ident, _ := auth.FromContext(c.Request().Context())
	field := ParseFilterField(c.QueryParam("filter"))
	query := c.QueryParam("query")

	protocols, err := h.svc.List(c.Request().Context(), ident, status, field, query)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if protocols == nil {
		protocols = []*Protocol{}
	}
	return c.JSON(http.StatusOK, protocols)
}

func (h *Handler) Finalize(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ident, _ := auth.FromContext(c.Request().Context())
	p, err := h.svc.Finalize(c.Request().Context(), ident, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Reactivate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ident, _ := auth.FromContext(c.Request().Context())
	p, err := h.svc.Reactivate(c.Request().Context(), ident, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) EditPriority(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ident, _ := auth.FromContext(c.Request().Context())
	priority := c.FormValue("priority")

	p, err := h.svc.EditPriority(c.Request().Context(), ident, id, priority)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- helpers --

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func listPathFor(p *Protocol) string {
	if p != nil && p.Status == StatusFinalized {
		return "/list-inactive"
	}
	return "/list"
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "protocol not found")
	case errors.Is(err, ErrNotAuthorized):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidPriority), errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicateNumber):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
