package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/runtime"
)

func (s *Server) handleCreateAssistant(c echo.Context) error {
	var req CreateAssistantRequest
	if err := c.Bind(&req); err != nil {
		return s.badRequest(c, "invalid request body")
	}
	a, err := s.runs.CreateAssistant(c.Request().Context(), runtime.AssistantSpec{
		ID:       req.AssistantID,
		GraphID:  req.GraphID,
		Config:   req.Config,
		Metadata: req.Metadata,
	}, req.IfExists)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (s *Server) handleGetAssistant(c echo.Context) error {
	a, err := s.runs.GetAssistant(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (s *Server) handleDeleteAssistant(c echo.Context) error {
	if err := s.runs.DeleteAssistant(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCreateThread(c echo.Context) error {
	var req CreateThreadRequest
	if err := c.Bind(&req); err != nil {
		return s.badRequest(c, "invalid request body")
	}
	th, err := s.runs.CreateThread(c.Request().Context(), req.ThreadID, req.Metadata, req.IfExists)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, th)
}

func (s *Server) handleGetThread(c echo.Context) error {
	th, err := s.runs.GetThread(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, th)
}

func (s *Server) handleDeleteThread(c echo.Context) error {
	if err := s.runs.DeleteThread(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetState(c echo.Context) error {
	st, err := s.runs.GetState(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleListRuns(c echo.Context) error {
	runs, err := s.runs.ListRuns(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	if runs == nil {
		runs = []runtime.Run{}
	}
	return c.JSON(http.StatusOK, RunsResponse{Runs: runs})
}

// handleCreateRun starts a run. Wait mode answers with the finished run;
// values mode streams snapshots until the run ends.
func (s *Server) handleCreateRun(c echo.Context) error {
	var req CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return s.badRequest(c, "invalid request body")
	}
	if req.StreamMode == "" {
		req.StreamMode = runtime.StreamWait
	}
	h, err := s.runs.CreateRun(c.Request().Context(), c.Param("id"), req.AssistantID, req.Input, req.StreamMode)
	if err != nil {
		return s.fail(c, err)
	}
	return s.respondRun(c, h)
}

func (s *Server) handleGetRun(c echo.Context) error {
	run, err := s.runs.GetRun(c.Request().Context(), c.Param("id"), c.Param("run_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleCancelRun(c echo.Context) error {
	run, err := s.runs.CancelRun(c.Request().Context(), c.Param("id"), c.Param("run_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleResumeRun(c echo.Context) error {
	var req ResumeRunRequest
	if err := c.Bind(&req); err != nil {
		return s.badRequest(c, "invalid request body")
	}
	if req.StreamMode == "" {
		req.StreamMode = runtime.StreamWait
	}
	h, err := s.runs.ResumeRun(c.Request().Context(), c.Param("id"), c.Param("run_id"), req.StreamMode)
	if err != nil {
		return s.fail(c, err)
	}
	return s.respondRun(c, h)
}

func (s *Server) handleDeleteRun(c echo.Context) error {
	if err := s.runs.DeleteRun(c.Request().Context(), c.Param("id"), c.Param("run_id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) respondRun(c echo.Context, h *runtime.RunHandle) error {
	c.Response().Header().Set("X-Run-ID", h.Run.ID)
	if st := h.Stream(); st != nil {
		return s.streamRun(c, st)
	}
	// The run keeps going when the client gives up waiting.
	run, err := h.Wait(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// streamRun writes snapshots as server-sent events. Intermediate snapshots
// are "values" events and the last one is an "end" event.
//
//	event: values
//	data: {"run_id":"...","status":"streaming","stage":"discover",...}
//
//	event: end
//	data: {"run_id":"...","status":"succeeded",...}
func (s *Server) streamRun(c echo.Context, st *runtime.Stream) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request().Context()
	ticker := time.NewTicker(s.config.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-st.C():
			if !ok {
				return nil
			}
			data, err := json.Marshal(snap)
			if err != nil {
				s.logger.Warn(ctx, "encoding snapshot", zap.String("run_id", snap.RunID), zap.Error(err))
				continue
			}
			event := "values"
			if snap.Final() {
				event = "end"
			}
			fmt.Fprintf(w, "event: %s\n", event)
			fmt.Fprintf(w, "data: %s\n\n", data)
			w.Flush()

		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			w.Flush()

		case <-ctx.Done():
			// Client disconnected; the run continues.
			return nil
		}
	}
}
