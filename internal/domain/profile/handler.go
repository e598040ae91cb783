package profile

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hl7mapper/hl7mapper/internal/platform/auth"
	"github.com/hl7mapper/hl7mapper/internal/platform/hl7v2"
	"github.com/hl7mapper/hl7mapper/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireScope(auth.ScopeRead))
	read.GET("/profiles", h.ListProfiles)
	read.GET("/profiles/:id", h.GetProfile)

	write := api.Group("", auth.RequireScope(auth.ScopeProfilesWrite))
	write.POST("/profiles", h.CreateProfile)
	write.PUT("/profiles/:id", h.UpdateProfile)
	write.DELETE("/profiles/:id", h.DeleteProfile)

	assemble := api.Group("", auth.RequireScope(auth.ScopeWrite))
	assemble.POST("/profiles/:id/assemble", h.AssembleProfile)
}

// httpError maps service errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateName):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(hl7v2.ErrorStatus(err), err.Error())
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateProfile(c echo.Context) error {
	var p Profile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateProfile(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetProfile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetProfile(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProfiles(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListProfiles(c.Request().Context(), strings.TrimSpace(c.QueryParam("name")), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Profile{}
	}

	resp := pagination.NewResponse(items, total, pg)
	links := pg.Links(c.Request().URL.Path, c.QueryParams(), total)
	resp.Links = &links
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p Profile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.UpdateProfile(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeleteProfile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteProfile(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AssembleProfile handles POST /profiles/:id/assemble. The body is the
// input document itself; ?version= overrides the profile's version.
func (h *Handler) AssembleProfile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	doc, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	msg, err := h.svc.Assemble(c.Request().Context(), id, doc, strings.TrimSpace(c.QueryParam("version")))
	if err != nil {
		return httpError(err)
	}
	return hl7v2.WriteMessage(c, msg)
}
