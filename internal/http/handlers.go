package http

import (
	"net/http"

	"github.com/fyrsmithlabs/truthd/internal/store"
	"github.com/labstack/echo/v4"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleAnalyzeTurn runs extraction over a stored turn without building a PR.
func (s *Server) handleAnalyzeTurn(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	var turn store.Turn
	if err := s.deps.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		turn, err = tx.GetTurn(ctx, id)
		return err
	}); err != nil {
		return s.fail(c, err)
	}

	result, truncated, err := s.deps.Extractor.ExtractTurn(ctx, turn.Text, &id)
	if err != nil {
		return s.fail(c, err)
	}
	if truncated {
		c.Response().Header().Set(HeaderInputTruncated, "true")
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleBuildPR(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := s.deps.Builder.Build(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetPR(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	pr, err := s.deps.Review.PR(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, pr)
}

func (s *Server) handleRunConflicts(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := s.deps.Conflicts.Run(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleRoute(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := s.deps.Router.Route(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleStakeholders(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := s.deps.Review.Stakeholders(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleTrace(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := s.deps.Review.Trace(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleMerge(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := s.deps.Merger.MergePR(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleCommsGraph(c echo.Context) error {
	g, err := s.deps.Review.Comms(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, g)
}

func (s *Server) handleKnowledgeGraph(c echo.Context) error {
	g, err := s.deps.Review.Knowledge(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, g)
}
