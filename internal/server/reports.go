package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/reportflow/internal/batch"
)

type reportHandler struct {
	opts Options
}

func (h *reportHandler) Register(g *echo.Group) {
	g.GET("/:run", h.get)
}

// get serves the merged batch document. Threads reported in a single pass
// have no document, so the report carried on the checkpoint is used instead.
func (h *reportHandler) get(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run")
	if h.opts.Documents != nil {
		doc, ok, err := h.opts.Documents.ReadDocument(ctx, runID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if ok {
			return c.JSON(http.StatusOK, doc)
		}
	}
	st, ok, err := h.opts.Threads.ReadCheckpoint(ctx, runID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok || st.Report == nil {
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	return c.JSON(http.StatusOK, batch.Document{RunID: runID, Title: st.Report.Title, Content: st.Report.Content})
}
