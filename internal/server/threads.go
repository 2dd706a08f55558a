package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/reportflow/internal/queue/streams"
	"github.com/mohammad-safakhou/reportflow/internal/workflow"
)

type threadHandler struct {
	opts Options
}

func (h *threadHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.POST("/:id/resume", h.resume)
	g.POST("/:id/cancel", h.cancel)
}

func (h *threadHandler) create(c echo.Context) error {
	var req CreateThreadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Request = strings.TrimSpace(req.Request)
	if req.Request == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request is required")
	}
	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = uuid.NewString()
	}
	id, err := h.opts.Publisher.PublishEvent(c.Request().Context(), h.opts.ThreadStream, streams.EventThreadRequested, streams.ThreadRequested{
		ThreadID:         threadID,
		Request:          req.Request,
		AutoAccept:       req.AutoAccept,
		BackgroundSearch: req.BackgroundSearch,
		Trigger:          "api",
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "publish thread request: "+err.Error())
	}
	return c.JSON(http.StatusAccepted, ThreadAccepted{ThreadID: threadID, EventID: id})
}

func (h *threadHandler) get(c echo.Context) error {
	st, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, threadView(st))
}

func (h *threadHandler) resume(c echo.Context) error {
	var req ResumeThreadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.load(c)
	if err != nil {
		return err
	}
	if st.Status != workflow.StatusSuspended {
		return echo.NewHTTPError(http.StatusConflict, workflow.ErrNotSuspended.Error())
	}
	id, err := h.opts.Publisher.PublishEvent(c.Request().Context(), h.opts.ThreadStream, streams.EventThreadResumed, streams.ThreadResumed{
		ThreadID: st.ThreadID,
		Reply:    req.Reply,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "publish resume: "+err.Error())
	}
	return c.JSON(http.StatusAccepted, ThreadAccepted{ThreadID: st.ThreadID, EventID: id})
}

// cancel sets the durable flag first so a worker checking between
// transitions stops even if the event is consumed late.
func (h *threadHandler) cancel(c echo.Context) error {
	st, err := h.load(c)
	if err != nil {
		return err
	}
	if st.Status.Terminal() {
		return echo.NewHTTPError(http.StatusConflict, "thread already "+string(st.Status))
	}
	ctx := c.Request().Context()
	if err := h.opts.Threads.RequestCancel(ctx, st.ThreadID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	id, err := h.opts.Publisher.PublishEvent(ctx, h.opts.ThreadStream, streams.EventThreadCancelled, streams.ThreadCancelled{ThreadID: st.ThreadID})
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "publish cancel: "+err.Error())
	}
	return c.JSON(http.StatusAccepted, ThreadAccepted{ThreadID: st.ThreadID, EventID: id})
}

func (h *threadHandler) load(c echo.Context) (*workflow.State, error) {
	id := c.Param("id")
	st, ok, err := h.opts.Threads.ReadCheckpoint(c.Request().Context(), id)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, workflow.ErrThreadNotFound.Error())
	}
	return st, nil
}
