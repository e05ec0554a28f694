package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/readerlab/bookchat/internal/rag"
	"github.com/readerlab/bookchat/internal/session"
	"github.com/readerlab/bookchat/models"
)

type QueryHandler struct {
	Orch     *rag.Orchestrator
	Sessions *session.Manager
}

func (h *QueryHandler) Register(g *echo.Group) {
	g.POST("/query", h.query)
	g.GET("/sessions/:id", h.getSession)
	g.DELETE("/sessions/:id", h.deleteSession)
}

type queryRequest struct {
	QueryText     string                `json:"query_text"`
	SessionID     *uuid.UUID            `json:"session_id,omitempty"`
	UserID        string                `json:"user_id,omitempty"`
	RetrievalMode string                `json:"retrieval_mode,omitempty"`
	Selection     *models.TextSelection `json:"selection,omitempty"`
}

func (h *QueryHandler) query(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.QueryText == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query_text required")
	}

	mode := models.RetrievalMode(req.RetrievalMode)
	switch mode {
	case "", models.RetrievalModeFullBook, models.RetrievalModeSelectedText:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "retrieval_mode must be FULL_BOOK or SELECTED_TEXT")
	}

	if req.Selection != nil {
		if req.Selection.EndCharOffset <= req.Selection.StartCharOffset {
			return echo.NewHTTPError(http.StatusBadRequest, "selection offsets must satisfy start < end")
		}
		if req.Selection.SelectionID == uuid.Nil {
			req.Selection.SelectionID = uuid.New()
		}
	}
	if mode == models.RetrievalModeSelectedText && req.Selection == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "selection required in SELECTED_TEXT mode")
	}

	resp, err := h.Orch.ProcessQuery(c.Request().Context(), rag.QueryRequest{
		QueryText: req.QueryText,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Mode:      mode,
		Selection: req.Selection,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *QueryHandler) getSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	sess, err := h.Sessions.Load(c.Request().Context(), id)
	if errors.Is(err, models.ErrSessionNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *QueryHandler) deleteSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	if err := h.Sessions.Expire(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
