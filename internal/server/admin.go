package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/readerlab/bookchat/internal/ingest"
	"github.com/readerlab/bookchat/internal/store"
)

// AdminHandler exposes ingestion and book deletion. All routes require the configured
// admin key; with no key configured the endpoints are disabled outright.
type AdminHandler struct {
	Pipeline *ingest.Pipeline
	Store    *store.Store
	Key      string
}

func (h *AdminHandler) Register(g *echo.Group) {
	g.Use(h.requireKey)
	g.POST("/books", h.ingestBook)
	g.DELETE("/books/:id", h.deleteBook)
}

func (h *AdminHandler) requireKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.Key == "" {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "admin api disabled")
		}
		if c.Request().Header.Get("X-Admin-Key") != h.Key {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid admin key")
		}
		return next(c)
	}
}

type ingestRequest struct {
	BookID uuid.UUID `json:"book_id,omitempty"`
	Text   string    `json:"text"`
}

func (h *AdminHandler) ingestBook(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text required")
	}
	if req.BookID == uuid.Nil {
		req.BookID = uuid.New()
	}
	res, err := h.Pipeline.Ingest(c.Request().Context(), req.Text, req.BookID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *AdminHandler) deleteBook(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid book id")
	}
	if err := h.Store.DeleteBook(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
